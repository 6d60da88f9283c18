package controller

import (
	"net/url"
	"os"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/scheduler"
)

// finishSuccess finalizes a download/upload that reported ResultOK:
// validates the short-body invariant, renames the temp file into place and
// fsyncs it, persists the completed row, and emits the terminal event.
func (c *Controller) finishSuccess(st *ticketState, result agent.DoneResult) {
	rec := st.rec

	rec.Lock()
	completed := rec.BytesCompleted
	total := rec.BytesTotal
	rec.Unlock()

	if total > 0 && completed < total {
		c.finishFailure(st, agent.ResultFileCorrupt, result)
		return
	}

	if st.file != nil {
		_ = st.file.Sync()
		_ = st.file.Close()
		if rec.Direction == record.Download {
			if err := os.Rename(c.tempPath(rec), c.finalPath(rec)); err != nil {
				c.finishFailure(st, agent.ResultFilesystemErr, result)
				return
			}
		}
	}

	rec.Lock()
	rec.State = record.StateCompleted
	rec.Unlock()
	c.persist(rec)

	promoted, hadPromotion := c.sched.Release(rec.Ticket)

	c.bus.Publish(events.NewTerminal(rec.Ticket, events.KindCompleted, rec.Clone(),
		0, result.HTTPStatus, result.HasHTTPStatus, true, false, false, c.finalPath(rec)))
	c.wakeLockRefresh()
	delete(c.tickets, rec.Ticket)

	if hadPromotion {
		c.startPromoted(promoted)
	}
}

// finishFailure is a non-resumable terminal failure: the temp file is
// deleted and the row is persisted as cancelled (spec.md's state machine
// has no separate "failed" state — HttpError/GeneralError/FileCorrupt all
// collapse into the cancelled bucket for history purposes; the terminal
// event's CompletionStatusCode is what subscribers use to tell them apart).
func (c *Controller) finishFailure(st *ticketState, code agent.ResultCode, result agent.DoneResult) {
	rec := st.rec

	if st.file != nil {
		st.file.Close()
		if rec.Direction == record.Download {
			os.Remove(c.tempPath(rec))
		}
	}

	rec.Lock()
	rec.State = record.StateCancelled
	rec.Unlock()
	c.persist(rec)

	promoted, hadPromotion := c.sched.Release(rec.Ticket)

	c.bus.Publish(events.NewTerminal(rec.Ticket, events.KindCompleted, rec.Clone(),
		int(code), result.HTTPStatus, result.HasHTTPStatus, false, true, false, ""))
	c.wakeLockRefresh()
	delete(c.tickets, rec.Ticket)

	if hadPromotion {
		c.startPromoted(promoted)
	}
}

// finishInterrupted leaves the ticket resumable: the temp file stays on
// disk, the row is persisted as interrupted, and a non-terminal interrupt
// event is published — the ticket remains in the controller's map for a
// later Resume or interface-edge auto-resume.
func (c *Controller) finishInterrupted(st *ticketState, result agent.DoneResult) {
	rec := st.rec

	if st.file != nil {
		st.file.Close()
		st.file = nil
	}

	rec.Lock()
	rec.State = record.StateInterrupted
	rec.Unlock()
	c.persist(rec)

	promoted, hadPromotion := c.sched.Release(rec.Ticket)
	c.wakeLockRefresh()

	c.bus.Publish(events.NewInterrupt(rec.Ticket, interruptReason(result.ResultCode)))

	if hadPromotion {
		c.startPromoted(promoted)
	}
}

// finishTerminal handles the cancellation path: explicit user cancel,
// redirect-budget exhaustion, and agent-reported ResultCancelled.
func (c *Controller) finishTerminal(st *ticketState, code agent.ResultCode, completed, aborted bool) {
	rec := st.rec

	if st.file != nil {
		st.file.Close()
		if rec.Direction == record.Download {
			os.Remove(c.tempPath(rec))
		}
	}

	rec.Lock()
	rec.State = record.StateCancelled
	rec.Unlock()
	c.persist(rec)

	promoted, hadPromotion := c.sched.Release(rec.Ticket)

	kind := events.KindCancelled
	if completed {
		kind = events.KindCompleted
	}
	c.bus.Publish(events.NewTerminal(rec.Ticket, kind, rec.Clone(),
		int(code), 0, false, completed, aborted, false, ""))
	c.wakeLockRefresh()
	delete(c.tickets, rec.Ticket)

	if hadPromotion {
		c.startPromoted(promoted)
	}
}

// handleRedirect implements spec.md §4.6's redirect policy: restart
// against Location, decrementing the budget and discarding any partial
// body; budget exhaustion terminates as cancelled.
func (c *Controller) handleRedirect(st *ticketState, result agent.DoneResult) {
	rec := st.rec

	rec.Lock()
	rec.RedirectsLeft--
	budgetLeft := rec.RedirectsLeft
	rec.Unlock()

	if budgetLeft < 0 {
		c.finishTerminal(st, agent.ResultCancelled, false, true)
		return
	}

	location := result.Location
	resolved := location
	if base, err := url.Parse(rec.SourceURL); err == nil {
		if loc, err := url.Parse(location); err == nil {
			resolved = base.ResolveReference(loc).String()
		}
	}

	if st.file != nil {
		st.file.Close()
		if rec.Direction == record.Download {
			os.Remove(c.tempPath(rec))
		}
		st.file = nil
	}

	rec.Lock()
	rec.SourceURL = resolved
	rec.BytesCompleted = rec.InitialOffset
	rec.BytesTotal = 0
	if !rec.Flags.KeepFilenameOnRedirect {
		if name, err := c.namer.Resolve(rec.TargetDir, rec.TempPrefix, "", resolved); err == nil {
			rec.TargetName = name
		}
	}
	rec.Unlock()
	c.persist(rec)

	if err := c.startSession(st, rec.InitialOffset); err != nil {
		c.finishFailure(st, agent.ResultGeneralError, agent.DoneResult{})
	}
}

// startPromoted starts the agent session for a ticket the scheduler just
// promoted from the admission queue into the active set.
func (c *Controller) startPromoted(ticket record.Ticket) {
	st, ok := c.tickets[ticket]
	if !ok {
		return
	}
	rec := st.rec
	rec.Lock()
	resumeFrom := rec.BytesCompleted
	rec.Unlock()
	if err := c.startSession(st, resumeFrom); err != nil {
		c.finishFailure(st, agent.ResultGeneralError, agent.DoneResult{})
	}
}

// wakeLockRefresh notifies ResourceGuard of the current active/queue
// sizes so it can acquire or release the wake lock on the 0↔1 edge.
func (c *Controller) wakeLockRefresh() {
	if c.guard == nil {
		return
	}
	_ = c.guard.NoteActiveCountChanged(c.sched.ActiveCount())
	_ = c.guard.ReleaseIfIdle(c.sched.ActiveCount(), c.sched.QueueLength())
}

func interruptReason(code agent.ResultCode) string {
	switch code {
	case agent.ResultConnectTimeout:
		return "connect_timeout"
	case agent.ResultWriteError:
		return "write_error"
	default:
		return "transport_error"
	}
}

// spaceCheckerFor narrows *resourceguard.Guard to scheduler.SpaceChecker.
// Callers must pass a real Guard — there is no nil-guard fallback, since a
// typed-nil *resourceguard.Guard wrapped in an interface would not compare
// equal to nil and would panic on first use.
func spaceCheckerFor(guard scheduler.SpaceChecker) scheduler.SpaceChecker {
	return guard
}

func translateRejection(err error) error {
	rejected, ok := err.(*scheduler.RejectedError)
	if !ok {
		return kindError(ErrGeneralError, err)
	}
	switch rejected.Reason {
	case scheduler.RejectQueueFull:
		return kindError(ErrQueueFull, err)
	case scheduler.RejectNoSuitableInterface:
		return kindError(ErrNoSuitableInterface, err)
	case scheduler.RejectFilesystemFull:
		return kindError(ErrFilesystemFull, err)
	default:
		return kindError(ErrGeneralError, err)
	}
}
