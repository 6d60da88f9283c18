// Package resourceguard implements the ResourceGuard: free-space checks,
// zone classification, and wake-lock reference counting.
//
// Grounded on internal/diskspace (syscall.Statfs_t-based CheckAvailableSpace/
// GetAvailableSpace and InsufficientSpaceError) for the free-space half;
// wake-lock ref-counting is new, following the same zero-allocation,
// no-lock-needed style since the guard is only ever touched from the
// controller's single executor.
package resourceguard

import (
	"fmt"
)

// Zone is the classification of a filesystem's free-space ratio.
type Zone string

const (
	ZoneOK       Zone = "ok"
	ZoneLow      Zone = "low"
	ZoneMed      Zone = "med"
	ZoneHigh     Zone = "high"
	ZoneCritical Zone = "critical"
	ZoneStop     Zone = "stop"
)

// Thresholds holds the zone boundaries as percent of total capacity still
// free, each an inclusive upper bound (at or below CriticalFullPercent free
// is critical, and so on up to LowFullPercent), plus the absolute
// stop_remain_kb floor at or below which the guard always reports ZoneStop
// regardless of percentage.
type Thresholds struct {
	LowFullPercent      uint32
	MedFullPercent      uint32
	HighFullPercent     uint32
	CriticalFullPercent uint32
	StopRemainKB        uint64
}

// InsufficientSpaceError indicates a space_check failed against the
// requested threshold.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// Guard is the ResourceGuard: disk-space classification plus wake-lock
// reference counting against the active-transfer count.
type Guard struct {
	thresholds Thresholds

	activeCount   int
	wakeLocked    bool
	wakeLockHooks WakeLockHooks
}

// WakeLockHooks lets the platform layer supply the actual acquire/release
// calls; nil hooks make wake-lock tracking a no-op bookkeeping exercise
// (used in tests and on platforms with no wake-lock concept).
type WakeLockHooks struct {
	Acquire func() error
	Release func() error
}

// New builds a Guard with the given zone thresholds.
func New(thresholds Thresholds, hooks WakeLockHooks) *Guard {
	return &Guard{thresholds: thresholds, wakeLockHooks: hooks}
}

// FreeKB returns the free kilobytes on the filesystem containing path's
// directory. Returns 0 if the filesystem can't be statted. Platform-specific
// implementation lives in statfs_unix.go / statfs_windows.go.
func (g *Guard) FreeKB(path string) uint64 {
	return freeKB(path)
}

// totalKB returns the total kilobytes on the filesystem containing path's
// directory. Returns 0 if the filesystem can't be statted.
func (g *Guard) totalKB(path string) uint64 {
	return totalKB(path)
}

// SpaceCheck reports whether at least kbThreshold KB are free at path.
func (g *Guard) SpaceCheck(path string, kbThreshold uint64) bool {
	return g.FreeKB(path) >= kbThreshold
}

// CheckAvailableSpace returns an InsufficientSpaceError if fewer than
// requiredBytes (scaled by safetyMargin) are available for path.
func (g *Guard) CheckAvailableSpace(path string, requiredBytes int64, safetyMargin float64) error {
	availableBytes := int64(g.FreeKB(path)) * 1024
	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{Path: path, RequiredBytes: requiredWithMargin, AvailableBytes: availableBytes}
	}
	return nil
}

// Classify maps path's current free/total ratio to a zone. A filesystem
// whose free space has dropped below the absolute stop_remain_kb floor is
// always ZoneStop, regardless of its percentage.
func (g *Guard) Classify(path string) Zone {
	freeKB := g.FreeKB(path)
	if freeKB <= g.thresholds.StopRemainKB {
		return ZoneStop
	}

	totalKB := g.totalKB(path)
	if totalKB == 0 {
		return ZoneOK
	}

	freePercent := uint32(freeKB * 100 / totalKB)

	switch {
	case freePercent <= g.thresholds.CriticalFullPercent:
		return ZoneCritical
	case freePercent <= g.thresholds.HighFullPercent:
		return ZoneHigh
	case freePercent <= g.thresholds.MedFullPercent:
		return ZoneMed
	case freePercent <= g.thresholds.LowFullPercent:
		return ZoneLow
	default:
		return ZoneOK
	}
}

// IsFull reports whether path's filesystem classifies as ZoneStop, the
// admission- and resume-time "filesystem full" condition.
func (g *Guard) IsFull(path string) bool {
	return g.Classify(path) == ZoneStop
}

// NoteActiveCountChanged is called by the controller whenever a transfer
// enters or leaves the active set. It requests wake-lock acquisition
// exactly on the 0->>=1 transition and release exactly when the active
// count (and, by the caller's accounting, the queue) both reach 0.
func (g *Guard) NoteActiveCountChanged(newActiveCount int) error {
	prev := g.activeCount
	g.activeCount = newActiveCount

	if prev == 0 && newActiveCount >= 1 && !g.wakeLocked {
		if g.wakeLockHooks.Acquire != nil {
			if err := g.wakeLockHooks.Acquire(); err != nil {
				return err
			}
		}
		g.wakeLocked = true
	}
	return nil
}

// ReleaseIfIdle releases the wake lock when both the active set and the
// admission queue are empty: activeCount and queueLength must be 0, and so
// must the active count last passed to NoteActiveCountChanged. The
// controller calls this after any operation that could have drained both
// to zero.
func (g *Guard) ReleaseIfIdle(activeCount, queueLength int) error {
	if activeCount == 0 && queueLength == 0 && g.activeCount == 0 && g.wakeLocked {
		if g.wakeLockHooks.Release != nil {
			if err := g.wakeLockHooks.Release(); err != nil {
				return err
			}
		}
		g.wakeLocked = false
	}
	return nil
}

// WakeLocked reports the guard's current wake-lock state, for status
// reporting and tests.
func (g *Guard) WakeLocked() bool {
	return g.wakeLocked
}
