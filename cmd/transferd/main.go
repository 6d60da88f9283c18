// Command transferd is the file-transfer daemon: it admits downloads and
// uploads, schedules them against the resourceguard/scheduler admission
// policy, and swaps or pauses them in response to interface transitions.
//
// Build with: go build ./cmd/transferd
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/transferd/internal/config"
	"github.com/rescale/transferd/internal/controller"
	"github.com/rescale/transferd/internal/ifacemon"
	"github.com/rescale/transferd/internal/logging"
	"github.com/rescale/transferd/internal/notify"
	"github.com/rescale/transferd/internal/orchestrator"
	"github.com/rescale/transferd/internal/progresscli"
	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/resourceguard"
)

var (
	// Version and BuildTime are set by the build's -ldflags.
	Version   = "v0.1.0-dev"
	BuildTime = "unknown"
)

var (
	cfgFile string
	verbose bool
	logger  *logging.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "transferd",
		Short:   "transferd manages resumable, interface-aware file transfers",
		Version: Version + " (" + BuildTime + ")",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(logging.Config{Console: true, Verbose: verbose})
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to daemon.conf")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newRunCmd())

	return root
}

func loadConfig() (*config.DaemonConfig, error) {
	cfg, err := config.LoadDaemonConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaultProbe(cfg *config.DaemonConfig) ifacemon.Probe {
	if runtime.GOOS == "linux" {
		return &ifacemon.SysfsProbe{
			WiredIface: cfg.Interfaces.WiredIface,
			WifiIface:  cfg.Interfaces.WifiIface,
			WanIface:   cfg.Interfaces.WanIface,
			BtpanIface: cfg.Interfaces.BtpanIface,
		}
	}
	return staticUpProbe{}
}

// staticUpProbe reports wired, wifi and wan connected and btpan
// disconnected; used on platforms
// without a sysfs-backed probe implementation.
type staticUpProbe struct{}

func (staticUpProbe) Probe(ctx context.Context) (map[record.InterfaceName]ifacemon.Status, record.WANSubType, error) {
	return map[record.InterfaceName]ifacemon.Status{
		record.Wired: ifacemon.StatusConnected,
		record.Wifi:  ifacemon.StatusConnected,
		record.Wan:   ifacemon.StatusConnected,
		record.Btpan: ifacemon.StatusDisconnected,
	}, record.WANUnknown, nil
}

func buildOrchestrator(cfg *config.DaemonConfig) (*orchestrator.Orchestrator, error) {
	o, err := orchestrator.New(orchestrator.Config{
		HistoryPath:           cfg.Orchestrator.HistoryPath,
		MaxConcurrent:         cfg.Admission.MaxConcurrent,
		MaxQueueLen:           cfg.Admission.MaxQueueLength,
		TempPrefix:            cfg.Orchestrator.TempPrefix,
		AutoResume:            cfg.Resume.AutoResume,
		ResumeAggression:      cfg.Resume.ResumeAggression,
		Thresholds:            cfg.Space.Thresholds(),
		WakeLockHooks:         resourceguard.WakeLockHooks{},
		InterfacePollInterval: time.Duration(cfg.Interfaces.PollIntervalSeconds) * time.Second,
		Notifications: notify.Config{
			Enabled:       cfg.Notifications.Enabled,
			ShowCompleted: cfg.Notifications.ShowCompleted,
			ShowCancelled: cfg.Notifications.ShowCancelled,
		},
		Logger: logger,
	}, defaultProbe(cfg))
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the transfer daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			o, err := buildOrchestrator(cfg)
			if err != nil {
				return fmt.Errorf("assembling orchestrator: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := o.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}

			logger.Info().Msg("transferd started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			logger.Info().Msg("transferd shutting down")
			cancel()
			o.Stop()
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the most recent HistoryStore rows by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			o, err := buildOrchestrator(cfg)
			if err != nil {
				return fmt.Errorf("assembling orchestrator: %w", err)
			}
			defer o.History().Close()

			for _, state := range []record.State{record.StateRunning, record.StateQueued, record.StateInterrupted} {
				rows, err := o.History().ByState(state)
				if err != nil {
					return fmt.Errorf("querying state %s: %w", state, err)
				}
				fmt.Printf("%s: %d transfer(s)\n", state, len(rows))
				for _, row := range rows {
					fmt.Printf("  ticket=%d owner=%s iface=%s\n", row.Ticket, row.Owner, row.Interface)
				}
			}
			return nil
		},
	}
}

// newRunCmd submits a single download and blocks, rendering its progress,
// until the transfer reaches its terminal event. It runs its own in-process
// orchestrator rather than talking to a separately running "serve" daemon,
// since the wire protocol between a client and a long-running daemon is
// outside this package's scope.
func newRunCmd() *cobra.Command {
	var (
		owner     string
		targetDir string
		filename  string
	)

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "download one URL in-process, showing live progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			o, err := buildOrchestrator(cfg)
			if err != nil {
				return fmt.Errorf("assembling orchestrator: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := o.Start(ctx); err != nil {
				return fmt.Errorf("starting orchestrator: %w", err)
			}
			defer o.Stop()

			target := args[0]
			ticket, err := o.SubmitDownload(controller.DownloadRequest{
				Owner:          owner,
				Target:         target,
				TargetDir:      targetDir,
				TargetFilename: filename,
				CanHandlePause: true,
				AutoResume:     cfg.Resume.AutoResume,
			})
			if err != nil {
				return fmt.Errorf("submitting download: %w", err)
			}

			sub := o.Subscribe(ticket)
			bar := progresscli.New(target, 0)
			completed, err := bar.Watch(ticket, sub)
			if err != nil {
				return err
			}
			if !completed {
				return fmt.Errorf("transfer %d did not complete", ticket)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "cli", "owner tag recorded with the transfer")
	cmd.Flags().StringVar(&targetDir, "dir", ".", "destination directory")
	cmd.Flags().StringVar(&filename, "filename", "", "destination filename override")

	return cmd
}
