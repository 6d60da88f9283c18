// Package config provides configuration management for transferd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/ini.v1"

	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/resourceguard"
)

// DaemonConfig is transferd's on-disk configuration.
//
// Config file location:
//   - Windows: %APPDATA%\transferd\daemon.conf
//   - Unix: ~/.config/transferd/daemon.conf
//
// INI format:
//
//	[orchestrator]
//	history_path = /var/lib/transferd/history.db
//	temp_prefix = .transferd-tmp
//	log_file =
//	verbose = false
//
//	[admission]
//	max_concurrent = 2
//	max_queue_length = 128
//
//	[interfaces]
//	wired_iface = eth0
//	wifi_iface = wlan0
//	wan_iface = wwan0
//	btpan_iface = bnep0
//	poll_interval_seconds = 5
//
//	[resume]
//	auto_resume = true
//	resume_aggression = false
//
//	[space]
//	low_full_percent = 20
//	med_full_percent = 10
//	high_full_percent = 5
//	critical_full_percent = 2
//	stop_remain_kb = 51200
//
//	[notifications]
//	enabled = true
//	show_completed = true
//	show_cancelled = true
type DaemonConfig struct {
	Orchestrator  OrchestratorConfig
	Admission     AdmissionConfig
	Interfaces    InterfacesConfig
	Resume        ResumeConfig
	Space         SpaceConfig
	Notifications NotificationConfig
}

// OrchestratorConfig contains process-wide daemon settings.
type OrchestratorConfig struct {
	HistoryPath string `ini:"history_path"`
	TempPrefix  string `ini:"temp_prefix"`
	LogFile     string `ini:"log_file"`
	Verbose     bool   `ini:"verbose"`
}

// AdmissionConfig bounds the scheduler's active set and queue, per §4.5.
type AdmissionConfig struct {
	MaxConcurrent   int `ini:"max_concurrent"`
	MaxQueueLength  int `ini:"max_queue_length"`
}

// InterfacesConfig names the physical interfaces backing each logical
// InterfaceName and how often the default SysfsProbe polls them.
type InterfacesConfig struct {
	WiredIface          string `ini:"wired_iface"`
	WifiIface           string `ini:"wifi_iface"`
	WanIface            string `ini:"wan_iface"`
	BtpanIface          string `ini:"btpan_iface"`
	PollIntervalSeconds int    `ini:"poll_interval_seconds"`
}

// ResumeConfig controls the edge-triggered auto-resume behavior of §4.4.
type ResumeConfig struct {
	AutoResume       bool `ini:"auto_resume"`
	ResumeAggression bool `ini:"resume_aggression"`
}

// SpaceConfig mirrors resourceguard.Thresholds for INI round-tripping.
type SpaceConfig struct {
	LowFullPercent      uint32 `ini:"low_full_percent"`
	MedFullPercent      uint32 `ini:"med_full_percent"`
	HighFullPercent     uint32 `ini:"high_full_percent"`
	CriticalFullPercent uint32 `ini:"critical_full_percent"`
	StopRemainKB        uint64 `ini:"stop_remain_kb"`
}

// Thresholds converts SpaceConfig into the shape resourceguard.New expects.
func (s SpaceConfig) Thresholds() resourceguard.Thresholds {
	return resourceguard.Thresholds{
		LowFullPercent:      s.LowFullPercent,
		MedFullPercent:      s.MedFullPercent,
		HighFullPercent:     s.HighFullPercent,
		CriticalFullPercent: s.CriticalFullPercent,
		StopRemainKB:        s.StopRemainKB,
	}
}

// NotificationConfig controls the optional desktop-notification subscriber.
type NotificationConfig struct {
	Enabled       bool `ini:"enabled"`
	ShowCompleted bool `ini:"show_completed"`
	ShowCancelled bool `ini:"show_cancelled"`
}

// DaemonConfig validation errors.
var (
	ErrInvalidMaxConcurrent  = errors.New("admission.max_concurrent must be at least 1")
	ErrInvalidMaxQueueLength = errors.New("admission.max_queue_length must be at least 1")
	ErrMissingHistoryPath    = errors.New("orchestrator.history_path is required")
)

// DefaultDaemonConfigPath returns the default path for the daemon.conf file.
//   - Windows: %APPDATA%\transferd\daemon.conf
//   - Unix: ~/.config/transferd/daemon.conf
func DefaultDaemonConfigPath() (string, error) {
	var configDir string

	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "transferd")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "transferd")
	}

	return filepath.Join(configDir, "daemon.conf"), nil
}

// DefaultHistoryPath returns the platform-specific default HistoryStore path.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return "C:\\ProgramData\\transferd\\history.db"
		}
		return "/var/lib/transferd/history.db"
	}
	return filepath.Join(home, ".local", "share", "transferd", "history.db")
}

// NewDaemonConfig creates a DaemonConfig with spec.md's documented defaults.
func NewDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Orchestrator: OrchestratorConfig{
			HistoryPath: DefaultHistoryPath(),
			TempPrefix:  ".transferd-tmp",
		},
		Admission: AdmissionConfig{
			MaxConcurrent:  2,
			MaxQueueLength: 128,
		},
		Interfaces: InterfacesConfig{
			WiredIface:          "eth0",
			WifiIface:           "wlan0",
			WanIface:            "wwan0",
			BtpanIface:          "bnep0",
			PollIntervalSeconds: 5,
		},
		Resume: ResumeConfig{
			AutoResume:       true,
			ResumeAggression: false,
		},
		Space: SpaceConfig{
			LowFullPercent:      20,
			MedFullPercent:      10,
			HighFullPercent:     5,
			CriticalFullPercent: 2,
			StopRemainKB:        51200,
		},
		Notifications: NotificationConfig{
			Enabled:       true,
			ShowCompleted: true,
			ShowCancelled: true,
		},
	}
}

// LoadDaemonConfig loads configuration from path. If path is empty, uses the
// default path. If the file doesn't exist, returns a config with default
// values and no error. If the file exists but is invalid, returns an error.
func LoadDaemonConfig(path string) (*DaemonConfig, error) {
	cfg := NewDaemonConfig()

	if path == "" {
		var err error
		path, err = DefaultDaemonConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load daemon.conf: %w", err)
	}

	orch := iniFile.Section("orchestrator")
	cfg.Orchestrator.HistoryPath = orch.Key("history_path").MustString(cfg.Orchestrator.HistoryPath)
	cfg.Orchestrator.TempPrefix = orch.Key("temp_prefix").MustString(cfg.Orchestrator.TempPrefix)
	cfg.Orchestrator.LogFile = orch.Key("log_file").String()
	cfg.Orchestrator.Verbose = orch.Key("verbose").MustBool(false)

	admission := iniFile.Section("admission")
	cfg.Admission.MaxConcurrent = admission.Key("max_concurrent").MustInt(cfg.Admission.MaxConcurrent)
	cfg.Admission.MaxQueueLength = admission.Key("max_queue_length").MustInt(cfg.Admission.MaxQueueLength)

	ifaces := iniFile.Section("interfaces")
	cfg.Interfaces.WiredIface = ifaces.Key("wired_iface").MustString(cfg.Interfaces.WiredIface)
	cfg.Interfaces.WifiIface = ifaces.Key("wifi_iface").MustString(cfg.Interfaces.WifiIface)
	cfg.Interfaces.WanIface = ifaces.Key("wan_iface").MustString(cfg.Interfaces.WanIface)
	cfg.Interfaces.BtpanIface = ifaces.Key("btpan_iface").MustString(cfg.Interfaces.BtpanIface)
	cfg.Interfaces.PollIntervalSeconds = ifaces.Key("poll_interval_seconds").MustInt(cfg.Interfaces.PollIntervalSeconds)

	resume := iniFile.Section("resume")
	cfg.Resume.AutoResume = resume.Key("auto_resume").MustBool(cfg.Resume.AutoResume)
	cfg.Resume.ResumeAggression = resume.Key("resume_aggression").MustBool(cfg.Resume.ResumeAggression)

	space := iniFile.Section("space")
	cfg.Space.LowFullPercent = uint32(space.Key("low_full_percent").MustInt(int(cfg.Space.LowFullPercent)))
	cfg.Space.MedFullPercent = uint32(space.Key("med_full_percent").MustInt(int(cfg.Space.MedFullPercent)))
	cfg.Space.HighFullPercent = uint32(space.Key("high_full_percent").MustInt(int(cfg.Space.HighFullPercent)))
	cfg.Space.CriticalFullPercent = uint32(space.Key("critical_full_percent").MustInt(int(cfg.Space.CriticalFullPercent)))
	cfg.Space.StopRemainKB = uint64(space.Key("stop_remain_kb").MustInt64(int64(cfg.Space.StopRemainKB)))

	notify := iniFile.Section("notifications")
	cfg.Notifications.Enabled = notify.Key("enabled").MustBool(cfg.Notifications.Enabled)
	cfg.Notifications.ShowCompleted = notify.Key("show_completed").MustBool(cfg.Notifications.ShowCompleted)
	cfg.Notifications.ShowCancelled = notify.Key("show_cancelled").MustBool(cfg.Notifications.ShowCancelled)

	return cfg, nil
}

// SaveDaemonConfig saves cfg to path (or the default path, if empty),
// creating parent directories and writing via a temp-file-then-rename for
// atomicity, the way the teacher's SaveDaemonConfig does.
func SaveDaemonConfig(cfg *DaemonConfig, path string) error {
	if path == "" {
		var err error
		path, err = DefaultDaemonConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	orch, err := iniFile.NewSection("orchestrator")
	if err != nil {
		return fmt.Errorf("failed to create orchestrator section: %w", err)
	}
	orch.Key("history_path").SetValue(cfg.Orchestrator.HistoryPath)
	orch.Key("temp_prefix").SetValue(cfg.Orchestrator.TempPrefix)
	orch.Key("log_file").SetValue(cfg.Orchestrator.LogFile)
	orch.Key("verbose").SetValue(fmt.Sprintf("%t", cfg.Orchestrator.Verbose))

	admission, err := iniFile.NewSection("admission")
	if err != nil {
		return fmt.Errorf("failed to create admission section: %w", err)
	}
	admission.Key("max_concurrent").SetValue(fmt.Sprintf("%d", cfg.Admission.MaxConcurrent))
	admission.Key("max_queue_length").SetValue(fmt.Sprintf("%d", cfg.Admission.MaxQueueLength))

	ifaces, err := iniFile.NewSection("interfaces")
	if err != nil {
		return fmt.Errorf("failed to create interfaces section: %w", err)
	}
	ifaces.Key("wired_iface").SetValue(cfg.Interfaces.WiredIface)
	ifaces.Key("wifi_iface").SetValue(cfg.Interfaces.WifiIface)
	ifaces.Key("wan_iface").SetValue(cfg.Interfaces.WanIface)
	ifaces.Key("btpan_iface").SetValue(cfg.Interfaces.BtpanIface)
	ifaces.Key("poll_interval_seconds").SetValue(fmt.Sprintf("%d", cfg.Interfaces.PollIntervalSeconds))

	resume, err := iniFile.NewSection("resume")
	if err != nil {
		return fmt.Errorf("failed to create resume section: %w", err)
	}
	resume.Key("auto_resume").SetValue(fmt.Sprintf("%t", cfg.Resume.AutoResume))
	resume.Key("resume_aggression").SetValue(fmt.Sprintf("%t", cfg.Resume.ResumeAggression))

	space, err := iniFile.NewSection("space")
	if err != nil {
		return fmt.Errorf("failed to create space section: %w", err)
	}
	space.Key("low_full_percent").SetValue(fmt.Sprintf("%d", cfg.Space.LowFullPercent))
	space.Key("med_full_percent").SetValue(fmt.Sprintf("%d", cfg.Space.MedFullPercent))
	space.Key("high_full_percent").SetValue(fmt.Sprintf("%d", cfg.Space.HighFullPercent))
	space.Key("critical_full_percent").SetValue(fmt.Sprintf("%d", cfg.Space.CriticalFullPercent))
	space.Key("stop_remain_kb").SetValue(fmt.Sprintf("%d", cfg.Space.StopRemainKB))

	notify, err := iniFile.NewSection("notifications")
	if err != nil {
		return fmt.Errorf("failed to create notifications section: %w", err)
	}
	notify.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Notifications.Enabled))
	notify.Key("show_completed").SetValue(fmt.Sprintf("%t", cfg.Notifications.ShowCompleted))
	notify.Key("show_cancelled").SetValue(fmt.Sprintf("%t", cfg.Notifications.ShowCancelled))

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks cfg for the invariants the orchestrator depends on.
func (cfg *DaemonConfig) Validate() error {
	if cfg.Admission.MaxConcurrent < 1 {
		return ErrInvalidMaxConcurrent
	}
	if cfg.Admission.MaxQueueLength < 1 {
		return ErrInvalidMaxQueueLength
	}
	if cfg.Orchestrator.HistoryPath == "" {
		return ErrMissingHistoryPath
	}
	return nil
}

// InterfaceNames returns the four logical-to-physical interface name
// mappings (wired, wifi, wan, btpan) as a map, which carries no order.
func (cfg *DaemonConfig) InterfaceNames() map[record.InterfaceName]string {
	return map[record.InterfaceName]string{
		record.Wired: cfg.Interfaces.WiredIface,
		record.Wifi:  cfg.Interfaces.WifiIface,
		record.Wan:   cfg.Interfaces.WanIface,
		record.Btpan: cfg.Interfaces.BtpanIface,
	}
}
