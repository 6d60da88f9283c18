// Package agent defines the TransferAgent contract: the interface the
// controller drives to actually move bytes, independent of transport.
// httpagent and ftpagent are the concrete implementations.
package agent

import (
	"context"
	"time"

	"github.com/rescale/transferd/internal/record"
)

// SessionID identifies one TransferAgent session. The orchestrator keeps
// ticket<->SessionID as a plain mapping and never derives one from the
// other; it never reaches into agent-internal handles.
type SessionID uint64

// StartRequest carries everything an agent needs to begin (or resume) one
// session. ResumeFromOffset is the byte position to request via Range; a
// zero value starts from the beginning.
type StartRequest struct {
	Ticket           record.Ticket
	Direction        record.Direction
	URL              string
	ResumeFromOffset int64
	Interface        record.InterfaceName
	AuthToken        string
	DeviceID         string
	Cookie           string
	CustomHeaders    []string
	LowSpeedFloor    int64
	LowSpeedWindow   time.Duration

	// Upload-only.
	PostParameters []record.UploadPart
	ContentType    string
	SourceFilePath string // local file whose bytes are the upload body
	FileLabel      string // multipart field name SourceFilePath is attached under
}

// DoneResult is the single on_done payload an agent delivers per session.
type DoneResult struct {
	ResultCode      ResultCode
	HTTPStatus      int
	HasHTTPStatus   bool
	HTTPConnectCode int
	Location        string // Location header, when the response was a redirect.
	ContentLength   int64
	HasContentLength bool
}

// ResultCode enumerates how a session ended, mirroring spec.md §6's
// terminal status codes.
type ResultCode int

const (
	ResultOK             ResultCode = 0
	ResultGeneralError   ResultCode = -1
	ResultConnectTimeout ResultCode = -2
	ResultFileCorrupt    ResultCode = -3
	ResultFilesystemErr  ResultCode = -4
	ResultHTTPError      ResultCode = -5
	ResultWriteError     ResultCode = -6
	ResultRedirect       ResultCode = -100 // internal: controller intercepts, never reaches a subscriber
	ResultInterrupted    ResultCode = 11
	ResultCancelled      ResultCode = 12
)

// Callbacks is the set of controller-supplied hooks a TransferAgent session
// invokes as the transfer progresses. All calls for a given session happen
// serially, and the orchestrator assumes exactly one Done call per started
// session.
type Callbacks struct {
	OnHeader func(name, value string)
	OnWrite  func(chunk []byte) bool // false aborts the session
	OnRead   func(buf []byte) int    // upload bodies only
	OnDone   func(DoneResult)
}

// TransferAgent drives byte transfer for one transport (HTTP/HTTPS, FTP).
// Implementations may use background I/O goroutines internally, but every
// callback they invoke must be delivered as if posted to the controller's
// single executor — see internal/controller.
type TransferAgent interface {
	// Start begins a new session and returns its id. Callbacks fire
	// asynchronously until Done (or ctx is cancelled).
	Start(ctx context.Context, req StartRequest, cb Callbacks) (SessionID, error)

	// Cancel is idempotent; it causes OnDone to fire with ResultCancelled
	// if the session hadn't already finished.
	Cancel(session SessionID)

	// SwapInterface removes the session from the agent's active pool,
	// rebinds it to iface, sets its resume-from offset to
	// currentBytesCompleted, and re-starts it under a new SessionID. Safe
	// to call only from the controller's executor.
	SwapInterface(ctx context.Context, session SessionID, iface record.InterfaceName, currentBytesCompleted int64, cb Callbacks) (SessionID, error)
}
