package controller

import (
	"errors"
	"os"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/ifacemon"
	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/scheduler"
)

var errSwapToAny = errors.New("cannot swap to interface any")

// scheduleRequestFor rebuilds the admission request for a resumed ticket,
// preferring its previously bound interface.
func scheduleRequestFor(rec *record.Record) scheduler.Request {
	rec.Lock()
	defer rec.Unlock()
	return scheduler.Request{
		Owner:          rec.Owner,
		Direction:      rec.Direction,
		RequestedIface: rec.Interface,
		DestPath:       rec.TargetDir,
	}
}

func (c *Controller) pause(ticket record.Ticket, allowStartQueued bool) error {
	st, ok := c.tickets[ticket]
	if !ok {
		return kindError(ErrNoSuchDownloadTask, nil)
	}
	rec := st.rec

	rec.Lock()
	canPause := rec.Flags.CanHandlePause
	state := rec.State
	rec.Unlock()

	if state.IsTerminal() {
		return nil
	}

	if !canPause {
		return c.cancel(ticket)
	}

	if st.ag != nil && st.session != 0 {
		st.ag.Cancel(st.session)
	}
	if st.file != nil {
		st.file.Close()
		st.file = nil
	}

	rec.Lock()
	rec.State = record.StateInterrupted
	rec.Unlock()
	c.persist(rec)

	if state == record.StateQueued {
		c.sched.RemoveQueued(ticket)
	} else {
		promoted, hadPromotion := c.sched.Release(ticket)
		c.wakeLockRefresh()
		if allowStartQueued && hadPromotion {
			c.startPromoted(promoted)
		}
	}

	c.bus.Publish(events.NewPause(ticket, "paused"))
	return nil
}

func (c *Controller) resume(ticket record.Ticket) error {
	row, ok, err := c.history.Get(ticket)
	if err != nil {
		return kindError(ErrHistoryCorrupt, err)
	}
	if !ok {
		return kindError(ErrNotInHistory, nil)
	}
	if row.State != record.StateInterrupted {
		return kindError(ErrNotInterrupted, nil)
	}

	st, inMemory := c.tickets[ticket]
	if !inMemory {
		rec, err := record.Decode(row.Blob)
		if err != nil {
			return kindError(ErrHistoryCorrupt, err)
		}
		st = &ticketState{rec: rec}
		c.tickets[ticket] = st
	}
	rec := st.rec

	rec.Lock()
	resumeFrom := rec.BytesCompleted
	destPath := rec.TargetDir
	rec.Unlock()

	if c.guard != nil && c.guard.IsFull(destPath) {
		return kindError(ErrFilesystemFull, nil)
	}

	if _, err := os.Stat(c.tempPath(rec)); err != nil {
		rec.Lock()
		rec.BytesCompleted = 0
		resumeFrom = 0
		rec.Unlock()
	}

	slot, err := c.sched.Admit(scheduleRequestFor(rec), c.ifaces, spaceCheckerFor(c.guard))
	if err != nil {
		return translateRejection(err)
	}

	rec.Lock()
	rec.Interface = slot.Interface
	rec.State = record.StateQueued
	rec.Queued = !slot.Active
	rec.Unlock()
	c.persist(rec)

	if slot.Active {
		if err := c.startSession(st, resumeFrom); err != nil {
			c.finishFailure(st, agent.ResultGeneralError, agent.DoneResult{})
		}
	}
	return nil
}

func (c *Controller) cancel(ticket record.Ticket) error {
	st, ok := c.tickets[ticket]
	if !ok {
		return nil // already terminal or never existed: idempotent no-op
	}
	rec := st.rec

	rec.Lock()
	state := rec.State
	rec.Unlock()
	if state.IsTerminal() {
		return nil
	}

	if st.ag != nil && st.session != 0 {
		st.ag.Cancel(st.session)
	}
	if state == record.StateQueued {
		c.sched.RemoveQueued(ticket)
	}

	c.finishTerminal(st, agent.ResultCancelled, false, true)
	return nil
}

func (c *Controller) swapInterface(ticket record.Ticket, iface record.InterfaceName) error {
	if iface == record.Any {
		return kindError(ErrGeneralError, errSwapToAny)
	}
	st, ok := c.tickets[ticket]
	if !ok {
		return kindError(ErrNoSuchDownloadTask, nil)
	}
	rec := st.rec

	rec.Lock()
	current := rec.Interface
	resumeFrom := rec.BytesCompleted
	rec.Unlock()
	if current == iface {
		return nil
	}

	if st.ag != nil && st.session != 0 {
		st.ag.Cancel(st.session)
	}
	if st.file != nil {
		st.file.Close()
		st.file = nil
	}

	rec.Lock()
	rec.Interface = iface
	rec.Unlock()
	c.persist(rec)

	c.sched.SetInterface(ticket, iface)

	if err := c.startSession(st, resumeFrom); err != nil {
		c.finishFailure(st, agent.ResultGeneralError, agent.DoneResult{})
	}
	return nil
}

// handleEdge applies one InterfaceMonitor edge per spec.md §4.4.
func (c *Controller) handleEdge(edge ifacemon.Edge, autoResume, resumeAggression bool) {
	if !edge.Up {
		for ticket, st := range c.tickets {
			rec := st.rec
			rec.Lock()
			bound := rec.Interface
			state := rec.State
			rec.Unlock()
			if bound == edge.Interface && !state.IsTerminal() {
				c.pause(ticket, false)
			}
		}
		return
	}

	if !autoResume {
		return
	}

	for ticket, st := range c.tickets {
		rec := st.rec
		rec.Lock()
		bound := rec.Interface
		state := rec.State
		rec.Unlock()
		if state != record.StateInterrupted {
			continue
		}
		if bound == edge.Interface || bound == record.Any {
			c.resume(ticket)
		}
	}

	if !resumeAggression {
		return
	}

	target := record.InterfaceName("")
	if edge.Interface == record.Wired {
		target = record.Wired
	} else if edge.Interface == record.Wifi && c.wiredDown() {
		target = record.Wifi
	}
	if target == "" {
		return
	}

	for ticket, st := range c.tickets {
		rec := st.rec
		rec.Lock()
		bound := rec.Interface
		state := rec.State
		rec.Unlock()
		if state == record.StateRunning && bound != target {
			c.swapInterface(ticket, target)
		}
	}
}

func (c *Controller) wiredDown() bool {
	status := c.ifaces.ConnectedMap()
	return !status[record.Wired]
}
