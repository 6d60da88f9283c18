// Package orchestrator wires the HistoryStore, EventBus, ResourceGuard,
// InterfaceMonitor, Scheduler, and TransferController into the single
// in-process entrypoint a real RPC binding would sit on top of.
//
// Grounded on internal/daemon/daemon.go's New/Start/Stop/Status lifecycle —
// the same immediate-action-then-background-loop shape, retargeted from
// polling a job API to wiring the transfer subsystem and draining interface
// edges.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/controller"
	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/filenaming"
	"github.com/rescale/transferd/internal/ftpagent"
	"github.com/rescale/transferd/internal/history"
	"github.com/rescale/transferd/internal/httpagent"
	"github.com/rescale/transferd/internal/ifacemon"
	"github.com/rescale/transferd/internal/logging"
	"github.com/rescale/transferd/internal/notify"
	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/resourceguard"
	"github.com/rescale/transferd/internal/scheduler"
)

// Config holds the orchestrator's static, startup-only settings, mirroring
// spec.md's Configuration options.
type Config struct {
	HistoryPath   string
	MaxConcurrent int
	MaxQueueLen   int
	TempPrefix    string

	AutoResume       bool
	ResumeAggression bool

	Thresholds    resourceguard.Thresholds
	WakeLockHooks resourceguard.WakeLockHooks

	InterfacePollInterval time.Duration // 0 uses ifacemon's default

	Notifications notify.Config
	Logger        *logging.Logger
}

// schemeResolver picks httpagent vs ftpagent by URL scheme.
type schemeResolver struct {
	http *httpagent.Agent
	ftp  *ftpagent.Agent
}

func (r schemeResolver) AgentFor(sourceURL string) (agent.TransferAgent, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: parsing url %q: %w", sourceURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return r.http, nil
	case "ftp":
		return r.ftp, nil
	default:
		return nil, fmt.Errorf("orchestrator: unsupported scheme %q", u.Scheme)
	}
}

// Orchestrator is the assembled transfer subsystem: the single object a
// cmd/transferd binary (or any other embedder) drives.
type Orchestrator struct {
	cfg Config

	history *history.Store
	bus     *events.Bus
	guard   *resourceguard.Guard
	sched   *scheduler.Scheduler
	ifaces  *ifacemon.Monitor
	ctrl    *controller.Controller
	notif   *notify.Notifier

	mu      sync.RWMutex
	running bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New assembles every subsystem but does not start any goroutines; call
// Start to bring the orchestrator up.
func New(cfg Config, probe ifacemon.Probe) (*Orchestrator, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxQueueLen <= 0 {
		cfg.MaxQueueLen = defaultMaxQueueLen
	}

	hs, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening history store: %w", err)
	}

	startTicket, err := hs.MaxTicket()
	if err != nil {
		hs.Close()
		return nil, fmt.Errorf("orchestrator: reading max ticket: %w", err)
	}

	bus := events.NewBus(0)
	guard := resourceguard.New(cfg.Thresholds, cfg.WakeLockHooks)
	sched := scheduler.New(startTicket+1, cfg.MaxConcurrent, cfg.MaxQueueLen)
	ifaces := ifacemon.New(probe, cfg.InterfacePollInterval)
	namer := filenaming.New()

	resolver := schemeResolver{http: httpagent.New(), ftp: ftpagent.New()}
	ctrl := controller.New(hs, bus, guard, sched, resolver, namer, ifaces, controller.Config{TempPrefix: cfg.TempPrefix})
	notif := notify.New(cfg.Notifications, cfg.Logger)

	return &Orchestrator{
		cfg:      cfg,
		history:  hs,
		bus:      bus,
		guard:    guard,
		sched:    sched,
		ifaces:   ifaces,
		ctrl:     ctrl,
		notif:    notif,
		stopChan: make(chan struct{}),
	}, nil
}

const (
	defaultMaxConcurrent = 2
	defaultMaxQueueLen   = 128
)

// Start brings up the controller's executor, the interface monitor, and the
// edge-draining loop that feeds HandleEdge. It returns once everything is
// running; Stop tears it back down.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errors.New("orchestrator: already running")
	}
	o.running = true
	o.mu.Unlock()

	o.ctrl.Run(ctx)
	o.ifaces.Start(ctx)

	o.wg.Add(1)
	go o.drainEdges(ctx)

	go o.notif.Run(o.bus.SubscribeAll())

	return nil
}

// Stop signals the edge-drain loop to exit, stops the interface monitor,
// and stops the controller's executor.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	close(o.stopChan)
	o.wg.Wait()
	o.ifaces.Stop()
	o.ctrl.Stop()
	o.bus.Close()
	o.history.Close()
}

func (o *Orchestrator) drainEdges(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopChan:
			return
		case edge, ok := <-o.ifaces.Edges():
			if !ok {
				return
			}
			o.ctrl.HandleEdge(edge, o.cfg.AutoResume, o.cfg.ResumeAggression)
		}
	}
}

// SubmitDownload admits and, if room allows, starts a new download.
func (o *Orchestrator) SubmitDownload(req controller.DownloadRequest) (record.Ticket, error) {
	return o.ctrl.SubmitDownload(req)
}

// SubmitUpload admits and, if room allows, starts a new upload.
func (o *Orchestrator) SubmitUpload(req controller.UploadRequest) (record.Ticket, error) {
	return o.ctrl.SubmitUpload(req)
}

// Pause pauses ticket; see controller.Controller.Pause.
func (o *Orchestrator) Pause(ticket record.Ticket) error {
	return o.ctrl.Pause(ticket, true)
}

// Resume re-admits an interrupted ticket.
func (o *Orchestrator) Resume(ticket record.Ticket) error {
	return o.ctrl.Resume(ticket)
}

// Cancel removes ticket from the active or queued set.
func (o *Orchestrator) Cancel(ticket record.Ticket) error {
	return o.ctrl.Cancel(ticket)
}

// SwapInterface rebinds ticket to iface.
func (o *Orchestrator) SwapInterface(ticket record.Ticket, iface record.InterfaceName) error {
	return o.ctrl.SwapInterface(ticket, iface)
}

// Subscribe returns a channel receiving only events for ticket.
func (o *Orchestrator) Subscribe(ticket record.Ticket) <-chan events.Event {
	return o.bus.Subscribe(ticket)
}

// SubscribeAll returns a channel receiving every event published, for a
// status/monitoring consumer.
func (o *Orchestrator) SubscribeAll() <-chan events.Event {
	return o.bus.SubscribeAll()
}

// Status summarizes the orchestrator's current load, for the CLI's status
// subcommand.
type Status struct {
	Running       bool
	ActiveCount   int
	QueueLength   int
	WakeLocked    bool
	DroppedEvents int64
}

// GetStatus returns current orchestrator status information.
func (o *Orchestrator) GetStatus() Status {
	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()
	return Status{
		Running:       running,
		ActiveCount:   o.sched.ActiveCount(),
		QueueLength:   o.sched.QueueLength(),
		WakeLocked:    o.guard.WakeLocked(),
		DroppedEvents: o.bus.DroppedEventCount(),
	}
}

// History exposes the HistoryStore for read-only queries (by owner, by
// interface, by state) that the CLI's status/list subcommands need.
func (o *Orchestrator) History() *history.Store {
	return o.history
}
