package controller

import (
	"strconv"
	"strings"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/record"
)

func (c *Controller) onHeader(ticket record.Ticket, name, value string) {
	st, ok := c.tickets[ticket]
	if !ok || st.aborted {
		return
	}
	if !strings.EqualFold(name, "Content-Length") {
		return
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n == 0 {
		return
	}

	rec := st.rec
	rec.Lock()
	defer rec.Unlock()
	// Content-Length handling per spec.md §4.6: seen after bytes_completed
	// > 0 with bytes_total still unknown means this is a resume response;
	// otherwise it's the total size of a fresh transfer.
	if rec.BytesTotal == 0 {
		if rec.BytesCompleted > 0 {
			rec.BytesTotal = n + rec.BytesCompleted
		} else {
			rec.BytesTotal = n
		}
		rec.UpdateInterval = progressUpdateInterval(rec.BytesTotal)
	}
}

// onWrite appends chunk to the ticket's temp file and emits a throttled
// progress event. Returning false aborts the agent session (used when the
// write to the temp file fails, or the ticket is gone or has no open file,
// e.g. after a cancel or pause raced an in-flight callback).
func (c *Controller) onWrite(ticket record.Ticket, chunk []byte) bool {
	st, ok := c.tickets[ticket]
	if !ok || st.aborted || st.file == nil {
		return false
	}

	if _, err := st.file.Write(chunk); err != nil {
		st.aborted = true
		return false
	}

	rec := st.rec
	rec.Lock()
	rec.BytesCompleted += int64(len(chunk))
	completed := rec.BytesCompleted
	total := rec.BytesTotal
	last := rec.LastUpdateMark
	interval := rec.UpdateInterval
	if interval == 0 {
		interval = int64(constants.MinProgressIntervalBytes)
	}
	emit := completed-last >= interval
	if emit {
		rec.LastUpdateMark = completed
	}
	rec.Unlock()

	if emit {
		c.bus.Publish(events.NewProgress(ticket, completed, total))
	}
	return true
}

// onRead streams the upload's source file into buf and emits a throttled
// progress event, mirroring onWrite's accounting for the opposite direction
// of byte flow. A read error or missing file handle aborts the session.
func (c *Controller) onRead(ticket record.Ticket, buf []byte) int {
	st, ok := c.tickets[ticket]
	if !ok || st.aborted || st.file == nil {
		return 0
	}

	n, err := st.file.Read(buf)
	if n == 0 {
		if err != nil {
			st.aborted = true
		}
		return 0
	}

	rec := st.rec
	rec.Lock()
	rec.BytesCompleted += int64(n)
	completed := rec.BytesCompleted
	total := rec.BytesTotal
	last := rec.LastUpdateMark
	interval := rec.UpdateInterval
	if interval == 0 {
		interval = int64(constants.MinProgressIntervalBytes)
	}
	emit := completed-last >= interval
	if emit {
		rec.LastUpdateMark = completed
	}
	rec.Unlock()

	if emit {
		c.bus.Publish(events.NewProgress(ticket, completed, total))
	}
	return n
}

func (c *Controller) onDone(ticket record.Ticket, result agent.DoneResult) {
	st, ok := c.tickets[ticket]
	if !ok {
		return
	}
	rec := st.rec

	switch result.ResultCode {
	case agent.ResultRedirect:
		c.handleRedirect(st, result)
		return
	case agent.ResultOK:
		c.finishSuccess(st, result)
		return
	case agent.ResultHTTPError:
		c.finishFailure(st, agent.ResultHTTPError, result)
		return
	case agent.ResultCancelled:
		// A session the controller cancelled itself (pause, swap) still
		// reports ResultCancelled after the ticket has moved on; only a
		// session stopped by a failed write is finished here.
		if !st.aborted {
			return
		}
		c.finishTerminal(st, agent.ResultCancelled, false, false)
		return
	default:
		rec.Lock()
		canPause := rec.Flags.CanHandlePause
		rec.Unlock()
		if canPause {
			c.finishInterrupted(st, result)
		} else {
			c.finishFailure(st, result.ResultCode, result)
		}
	}
}
