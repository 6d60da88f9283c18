// Package controller implements the TransferController: the per-ticket
// state machine that drives TransferAgent sessions, persists progress to
// the HistoryStore, and publishes events, atop admission decisions made by
// internal/scheduler.
//
// Grounded on internal/transfer/task.go's TaskState enum and
// internal/transfer/queue.go's state-transition methods (Activate,
// StartTransfer, Complete, Fail, Cancel), generalized from the teacher's
// 7-state GUI-observer queue (no redirects, no resume, no interface swap)
// to spec.md §4.6's full state machine. The single-serial-executor
// requirement in spec.md §5 has no teacher precedent — the teacher
// serialized its Queue with a sync.RWMutex instead of a command executor —
// so the executor itself is a new, spec-driven addition using the
// idiomatic Go "communicate by sharing memory via channel of closures"
// pattern rather than a home-grown lock scheme.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/filenaming"
	"github.com/rescale/transferd/internal/history"
	"github.com/rescale/transferd/internal/ifacemon"
	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/resourceguard"
	"github.com/rescale/transferd/internal/scheduler"
)

// ticketState is the controller's runtime-only bookkeeping for one live
// ticket; it never leaves the controller's executor goroutine.
type ticketState struct {
	rec     *record.Record
	ag      agent.TransferAgent
	session agent.SessionID
	file    *os.File

	lastProgressMark int64
	aborted          bool
}

// Controller owns every live ticket's state and is safe to call from any
// goroutine: every public method enqueues a closure onto the executor and
// blocks for its result, so controller-owned fields are only ever touched
// from the single executor goroutine.
type Controller struct {
	history *history.Store
	bus     *events.Bus
	guard   *resourceguard.Guard
	sched   *scheduler.Scheduler
	agents  AgentResolver
	namer   *filenaming.Namer
	ifaces  scheduler.InterfaceStatus
	cfg     Config

	cmds   chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup

	tickets map[record.Ticket]*ticketState
}

// New builds a Controller. Call Run to start its executor before issuing
// any operation.
func New(hs *history.Store, bus *events.Bus, guard *resourceguard.Guard, sched *scheduler.Scheduler, agents AgentResolver, namer *filenaming.Namer, ifaces scheduler.InterfaceStatus, cfg Config) *Controller {
	if cfg.TempPrefix == "" {
		cfg.TempPrefix = ".transferd-tmp"
	}
	return &Controller{
		history: hs,
		bus:     bus,
		guard:   guard,
		sched:   sched,
		agents:  agents,
		namer:   namer,
		ifaces:  ifaces,
		cfg:     cfg,
		cmds:    make(chan func(), 64),
		stopCh:  make(chan struct{}),
		tickets: make(map[record.Ticket]*ticketState),
	}
}

// Run starts the executor goroutine. It returns immediately; the executor
// runs until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case fn := <-c.cmds:
				fn()
			}
		}
	}()
}

// Stop signals the executor to exit and waits for it.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// exec posts fn to the executor and blocks for its result. Every public
// operation goes through this so controller state is only ever touched by
// the single executor goroutine.
func (c *Controller) exec(fn func() (record.Ticket, error)) (record.Ticket, error) {
	type result struct {
		ticket record.Ticket
		err    error
	}
	done := make(chan result, 1)
	select {
	case c.cmds <- func() {
		t, err := fn()
		done <- result{t, err}
	}:
	case <-c.stopCh:
		return 0, kindError(ErrGeneralError, fmt.Errorf("controller stopped"))
	}
	r := <-done
	return r.ticket, r.err
}

func (c *Controller) execErr(fn func() error) error {
	_, err := c.exec(func() (record.Ticket, error) { return 0, fn() })
	return err
}

// SubmitDownload admits and, if room allows, starts a new download.
func (c *Controller) SubmitDownload(req DownloadRequest) (record.Ticket, error) {
	return c.exec(func() (record.Ticket, error) { return c.submitDownload(req) })
}

// SubmitUpload admits and, if room allows, starts a new upload.
func (c *Controller) SubmitUpload(req UploadRequest) (record.Ticket, error) {
	return c.exec(func() (record.Ticket, error) { return c.submitUpload(req) })
}

// Pause pauses ticket per spec.md §4.6: valid only when CanHandlePause,
// otherwise it cancels instead. allowStartQueued promotes the queue head
// once ticket is removed from the active set.
func (c *Controller) Pause(ticket record.Ticket, allowStartQueued bool) error {
	return c.execErr(func() error { return c.pause(ticket, allowStartQueued) })
}

// PauseAll pauses every active and queued ticket without promoting
// anything, used when every interface becomes disconnected.
func (c *Controller) PauseAll() {
	c.execErr(func() error {
		for ticket := range c.tickets {
			_ = c.pause(ticket, false)
		}
		return nil
	})
}

// Resume re-admits an interrupted ticket.
func (c *Controller) Resume(ticket record.Ticket) error {
	return c.execErr(func() error { return c.resume(ticket) })
}

// Cancel removes ticket from the active or queued set, deletes its temp
// file, and writes a cancelled row. Idempotent: cancelling an already
// terminal ticket is a no-op that returns nil.
func (c *Controller) Cancel(ticket record.Ticket) error {
	return c.execErr(func() error { return c.cancel(ticket) })
}

// SwapInterface rebinds ticket to iface, resuming from its current byte
// position. A no-op if already bound to iface; invalid for iface == any.
func (c *Controller) SwapInterface(ticket record.Ticket, iface record.InterfaceName) error {
	return c.execErr(func() error { return c.swapInterface(ticket, iface) })
}

// HandleEdge applies one InterfaceMonitor edge: pausing transfers bound to
// an interface that just went down, and auto-resuming/swapping per
// spec.md §4.4 when one comes up.
func (c *Controller) HandleEdge(edge ifacemon.Edge, autoResume, resumeAggression bool) {
	c.execErr(func() error {
		c.handleEdge(edge, autoResume, resumeAggression)
		return nil
	})
}

func (c *Controller) persist(rec *record.Record) {
	blob, err := record.Encode(rec)
	if err != nil {
		return
	}
	_ = c.history.Upsert(history.Row{
		Ticket:    rec.Ticket,
		Owner:     rec.Owner,
		Interface: rec.Interface,
		State:     rec.State,
		Blob:      blob,
	})
}

func (c *Controller) finalPath(rec *record.Record) string {
	return filepath.Join(rec.TargetDir, rec.TargetName)
}

func (c *Controller) tempPath(rec *record.Record) string {
	return filepath.Join(rec.TargetDir, rec.TempPrefix, rec.TargetName)
}

func progressUpdateInterval(bytesTotal int64) int64 {
	if bytesTotal <= 0 {
		return constants.MinProgressIntervalBytes
	}
	base := constants.MinProgressIntervalBytes
	n := constants.ProgressEventTarget
	want := bytesTotal / int64(n)
	lo := int64(base)
	hi := int64(base * n)
	switch {
	case want < lo:
		return lo
	case want > hi:
		return hi
	default:
		return want
	}
}
