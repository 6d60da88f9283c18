// Package notify provides cross-platform desktop notifications for transferd.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/logging"
)

// Config controls which transfer outcomes raise a desktop notification.
type Config struct {
	Enabled       bool
	ShowCompleted bool
	ShowCancelled bool
}

// Notifier subscribes to an events.Bus and turns terminal events into
// desktop notifications. It is itself a passive consumer: Run blocks until
// its input channel closes, so callers spawn it as a goroutine.
type Notifier struct {
	logger *logging.Logger

	mu      sync.RWMutex
	enabled bool
	cfg     Config
}

// New creates a Notifier. A nil logger is replaced with logging.NewDefault's
// console logger.
func New(cfg Config, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Notifier{logger: logger, enabled: cfg.Enabled, cfg: cfg}
}

// SetEnabled enables or disables all notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled reports whether notifications are currently enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// Run consumes events from ch until it closes, notifying on each terminal
// event per cfg. Call it in its own goroutine against events.Bus.SubscribeAll.
func (n *Notifier) Run(ch <-chan events.Event) {
	for ev := range ch {
		term, ok := ev.(*events.TerminalEvent)
		if !ok {
			continue
		}
		n.handleTerminal(term)
	}
}

func (n *Notifier) handleTerminal(ev *events.TerminalEvent) {
	if !n.IsEnabled() {
		return
	}

	switch ev.Kind() {
	case events.KindCompleted:
		if n.cfg.ShowCompleted {
			n.transferCompleted(ev)
		}
	case events.KindCancelled:
		if n.cfg.ShowCancelled {
			n.transferCancelled(ev)
		}
	}
}

// transferCompleted notifies that a download or upload finished successfully.
func (n *Notifier) transferCompleted(ev *events.TerminalEvent) {
	title := "Transfer Complete"
	message := fmt.Sprintf("%s\n%s", truncate(ev.Target, 60), shortenPath(ev.Record.FinalPath()))

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Int("ticket", int(ev.Ticket())).Msg("failed to send transfer complete notification")
	}
}

// transferCancelled notifies that a transfer ended without completing.
func (n *Notifier) transferCancelled(ev *events.TerminalEvent) {
	title := "Transfer Cancelled"
	message := truncate(ev.Target, 60)
	if ev.CompletionStatusCode != 0 {
		message = fmt.Sprintf("%s\nstatus code %d", message, ev.CompletionStatusCode)
	}

	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Int("ticket", int(ev.Ticket())).Msg("failed to send transfer cancelled notification")
	}
}

// Alert sends a critical notification that requires user attention, e.g. a
// disk-space stop condition.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}

	title := "transferd alert"
	if err := beeep.Alert(title, message, ""); err != nil {
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("failed to send alert notification")
		}
	}
}

func (n *Notifier) send(title, message string) error {
	return beeep.Notify(title, message, "")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	file := filepath.Base(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}

	return short
}
