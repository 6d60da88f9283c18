package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rescale/transferd/internal/record"
)

func TestNewDaemonConfigDefaults(t *testing.T) {
	cfg := NewDaemonConfig()

	if cfg.Admission.MaxConcurrent != 2 {
		t.Errorf("expected MaxConcurrent=2, got %d", cfg.Admission.MaxConcurrent)
	}
	if cfg.Admission.MaxQueueLength != 128 {
		t.Errorf("expected MaxQueueLength=128, got %d", cfg.Admission.MaxQueueLength)
	}
	if cfg.Resume.AutoResume != true {
		t.Errorf("expected AutoResume=true, got %v", cfg.Resume.AutoResume)
	}
	if cfg.Resume.ResumeAggression != false {
		t.Errorf("expected ResumeAggression=false, got %v", cfg.Resume.ResumeAggression)
	}
	if cfg.Space.StopRemainKB != 51200 {
		t.Errorf("expected StopRemainKB=51200, got %d", cfg.Space.StopRemainKB)
	}
	if cfg.Orchestrator.TempPrefix != ".transferd-tmp" {
		t.Errorf("expected TempPrefix=.transferd-tmp, got %s", cfg.Orchestrator.TempPrefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestDaemonConfigLoadSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "daemon.conf")

	cfg := NewDaemonConfig()
	cfg.Orchestrator.HistoryPath = "/test/history.db"
	cfg.Admission.MaxConcurrent = 4
	cfg.Admission.MaxQueueLength = 64
	cfg.Interfaces.WiredIface = "eth1"
	cfg.Interfaces.WifiIface = "wlan1"
	cfg.Resume.AutoResume = false
	cfg.Resume.ResumeAggression = true
	cfg.Space.StopRemainKB = 102400
	cfg.Notifications.ShowCancelled = false

	if err := SaveDaemonConfig(cfg, configPath); err != nil {
		t.Fatalf("SaveDaemonConfig: %v", err)
	}

	loaded, err := LoadDaemonConfig(configPath)
	if err != nil {
		t.Fatalf("LoadDaemonConfig: %v", err)
	}

	if loaded.Orchestrator.HistoryPath != cfg.Orchestrator.HistoryPath {
		t.Errorf("HistoryPath mismatch: got %s, want %s", loaded.Orchestrator.HistoryPath, cfg.Orchestrator.HistoryPath)
	}
	if loaded.Admission.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent mismatch: got %d", loaded.Admission.MaxConcurrent)
	}
	if loaded.Admission.MaxQueueLength != 64 {
		t.Errorf("MaxQueueLength mismatch: got %d", loaded.Admission.MaxQueueLength)
	}
	if loaded.Interfaces.WiredIface != "eth1" || loaded.Interfaces.WifiIface != "wlan1" {
		t.Errorf("interface names mismatch: %+v", loaded.Interfaces)
	}
	if loaded.Resume.AutoResume != false || loaded.Resume.ResumeAggression != true {
		t.Errorf("resume config mismatch: %+v", loaded.Resume)
	}
	if loaded.Space.StopRemainKB != 102400 {
		t.Errorf("StopRemainKB mismatch: got %d", loaded.Space.StopRemainKB)
	}
	if loaded.Notifications.ShowCancelled != false {
		t.Errorf("ShowCancelled mismatch: got %v", loaded.Notifications.ShowCancelled)
	}
}

func TestLoadDaemonConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadDaemonConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("expected no error for missing config file, got %v", err)
	}
	if cfg.Admission.MaxConcurrent != 2 {
		t.Errorf("expected defaults when config file is absent, got %+v", cfg.Admission)
	}
}

func TestValidateRejectsBadAdmission(t *testing.T) {
	cfg := NewDaemonConfig()
	cfg.Admission.MaxConcurrent = 0
	if err := cfg.Validate(); err != ErrInvalidMaxConcurrent {
		t.Errorf("expected ErrInvalidMaxConcurrent, got %v", err)
	}

	cfg = NewDaemonConfig()
	cfg.Admission.MaxQueueLength = 0
	if err := cfg.Validate(); err != ErrInvalidMaxQueueLength {
		t.Errorf("expected ErrInvalidMaxQueueLength, got %v", err)
	}

	cfg = NewDaemonConfig()
	cfg.Orchestrator.HistoryPath = ""
	if err := cfg.Validate(); err != ErrMissingHistoryPath {
		t.Errorf("expected ErrMissingHistoryPath, got %v", err)
	}
}

func TestInterfaceNamesMapsAllFour(t *testing.T) {
	cfg := NewDaemonConfig()
	names := cfg.InterfaceNames()
	for _, iface := range []record.InterfaceName{record.Wired, record.Wifi, record.Wan, record.Btpan} {
		if names[iface] == "" {
			t.Errorf("expected a non-empty physical name for %s", iface)
		}
	}
}

func TestSaveDaemonConfigCreatesParentDirectory(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c", "daemon.conf")
	cfg := NewDaemonConfig()
	if err := SaveDaemonConfig(cfg, nested); err != nil {
		t.Fatalf("SaveDaemonConfig: %v", err)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
}
