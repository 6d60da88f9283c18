package controller

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/record"
	"github.com/rescale/transferd/internal/scheduler"
)

func (c *Controller) submitDownload(req DownloadRequest) (record.Ticket, error) {
	if err := validateDownloadRequest(req); err != nil {
		return 0, err
	}

	name, err := c.namer.Resolve(req.TargetDir, c.cfg.TempPrefix, req.TargetFilename, req.Target)
	if err != nil {
		return 0, kindError(ErrFailedSecurityCheck, err)
	}

	slot, err := c.sched.Admit(scheduler.Request{
		Owner:          req.Owner,
		Direction:      record.Download,
		RequestedIface: req.Interface,
		DestPath:       req.TargetDir,
		Allow1x:        req.Allow1x,
	}, c.ifaces, spaceCheckerFor(c.guard))
	if err != nil {
		return 0, translateRejection(err)
	}

	rec := &record.Record{
		Ticket:         slot.Ticket,
		Direction:      record.Download,
		Owner:          req.Owner,
		SourceURL:      req.Target,
		MimeType:       req.Mime,
		TargetDir:      req.TargetDir,
		TargetName:     name,
		TempPrefix:     c.cfg.TempPrefix,
		AuthToken:      req.AuthToken,
		DeviceID:       req.DeviceID,
		Cookie:         req.CookieHeader,
		BytesCompleted: req.RangeLow,
		InitialOffset:  req.RangeLow,
		Flags: record.Flags{
			KeepFilenameOnRedirect: req.KeepFilenameOnRedirect,
			CanHandlePause:         req.CanHandlePause,
			AutoResume:             req.AutoResume,
			Append:                 req.AppendTargetFile,
		},
		Interface:      slot.Interface,
		RedirectsLeft:  constants.MaxRedirects,
		UpdateInterval: constants.MinProgressIntervalBytes,
		State:          record.StateQueued,
		Queued:         !slot.Active,
	}
	if req.HasRange {
		rec.Range = &record.ByteRange{Low: req.RangeLow, High: req.RangeHigh}
	}

	return c.admitTicket(rec, slot)
}

func (c *Controller) submitUpload(req UploadRequest) (record.Ticket, error) {
	if err := validateUploadRequest(req); err != nil {
		return 0, err
	}

	info, err := os.Stat(req.FileName)
	if err != nil {
		return 0, kindError(ErrCannotAccessTemp, err)
	}

	slot, err := c.sched.Admit(scheduler.Request{
		Owner:          req.Owner,
		Direction:      record.Upload,
		RequestedIface: req.Interface,
		Allow1x:        req.Allow1x,
	}, c.ifaces, spaceCheckerFor(c.guard))
	if err != nil {
		return 0, translateRejection(err)
	}

	rec := &record.Record{
		Ticket:            slot.Ticket,
		Direction:          record.Upload,
		Owner:              req.Owner,
		SourceURL:          req.URL,
		MimeType:           req.ContentType,
		SourceFilePath:     req.FileName,
		FileLabel:          req.FileLabel,
		PostParameters:     req.PostParameters,
		CustomHTTPHeaders:  req.CustomHeaders,
		Cookie:             req.CookieHeader,
		BytesTotal:         info.Size(),
		Interface:          slot.Interface,
		RedirectsLeft:      constants.MaxRedirects,
		UpdateInterval:     constants.MinProgressIntervalBytes,
		State:              record.StateQueued,
		Queued:             !slot.Active,
	}

	return c.admitTicket(rec, slot)
}

// admitTicket registers rec's runtime state, persists its initial row, and
// starts its agent session immediately when the scheduler activated it.
func (c *Controller) admitTicket(rec *record.Record, slot scheduler.Slot) (record.Ticket, error) {
	st := &ticketState{rec: rec}
	c.tickets[rec.Ticket] = st
	c.persist(rec)

	if slot.Active {
		if err := c.startSession(st, 0); err != nil {
			c.finishTerminal(st, agent.ResultGeneralError, false, false)
			return rec.Ticket, nil
		}
	}
	return rec.Ticket, nil
}

// startSession opens (or reopens, for resume) the temp file and starts the
// agent session, wiring callbacks back onto the executor.
func (c *Controller) startSession(st *ticketState, resumeFromOffset int64) error {
	rec := st.rec

	ag, err := c.agents.AgentFor(rec.SourceURL)
	if err != nil {
		return err
	}
	st.ag = ag

	if rec.Direction == record.Download {
		if err := os.MkdirAll(filepath.Dir(c.tempPath(rec)), 0o755); err != nil {
			return err
		}
		flag := os.O_CREATE | os.O_WRONLY
		if resumeFromOffset > 0 {
			flag |= os.O_APPEND
		} else {
			flag |= os.O_TRUNC
		}
		f, err := os.OpenFile(c.tempPath(rec), flag, 0o644)
		if err != nil {
			return kindError(ErrCannotAccessTemp, err)
		}
		st.file = f
	}

	if rec.Direction == record.Upload {
		f, err := os.Open(rec.SourceFilePath)
		if err != nil {
			return kindError(ErrCannotAccessTemp, err)
		}
		st.file = f
	}

	req := agent.StartRequest{
		Ticket:           rec.Ticket,
		Direction:        rec.Direction,
		URL:              rec.SourceURL,
		ResumeFromOffset: resumeFromOffset,
		Interface:        rec.Interface,
		AuthToken:        rec.AuthToken,
		DeviceID:         rec.DeviceID,
		Cookie:           rec.Cookie,
		CustomHeaders:    rec.CustomHTTPHeaders,
		LowSpeedFloor:    constants.LowSpeedFloorBytesPerSec,
		LowSpeedWindow:   constants.LowSpeedWindow,
		PostParameters:   rec.PostParameters,
		ContentType:      rec.MimeType,
		SourceFilePath:   rec.SourceFilePath,
		FileLabel:        rec.FileLabel,
	}

	cb := c.callbacksFor(st)
	sess, err := ag.Start(context.Background(), req, cb)
	if err != nil {
		if st.file != nil {
			st.file.Close()
		}
		return err
	}
	st.session = sess

	rec.Lock()
	rec.State = record.StateRunning
	rec.Queued = false
	rec.LastUpdateMark = rec.BytesCompleted
	rec.Unlock()
	c.persist(rec)

	return nil
}

// callbacksFor posts every agent callback back onto the executor, per
// spec.md §5's ordering guarantee that header/write/read/done for a given
// ticket never run concurrently with other controller operations.
func (c *Controller) callbacksFor(st *ticketState) agent.Callbacks {
	ticket := st.rec.Ticket
	return agent.Callbacks{
		OnHeader: func(name, value string) {
			c.cmds <- func() { c.onHeader(ticket, name, value) }
		},
		OnWrite: func(chunk []byte) bool {
			done := make(chan bool, 1)
			c.cmds <- func() { done <- c.onWrite(ticket, chunk) }
			return <-done
		},
		OnRead: func(buf []byte) int {
			done := make(chan int, 1)
			c.cmds <- func() { done <- c.onRead(ticket, buf) }
			return <-done
		},
		OnDone: func(result agent.DoneResult) {
			c.cmds <- func() { c.onDone(ticket, result) }
		},
	}
}
