//go:build windows

package resourceguard

import (
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	kernel32            = syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceExW  = kernel32.NewProc("GetDiskFreeSpaceExW")
)

func freeKB(path string) uint64 {
	free, _ := diskSpaceWindows(path)
	return free / 1024
}

func totalKB(path string) uint64 {
	_, total := diskSpaceWindows(path)
	return total / 1024
}

func diskSpaceWindows(path string) (freeBytes, totalBytes uint64) {
	dir := filepath.Dir(path)
	pathPtr, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0
	}

	var freeBytesAvailable, total, totalFreeBytes uint64
	ret, _, _ := getDiskFreeSpaceExW.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&totalFreeBytes)),
	)
	if ret == 0 {
		return 0, 0
	}
	return freeBytesAvailable, total
}
