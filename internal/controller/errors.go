package controller

import "fmt"

// ErrorKind enumerates the synchronous error codes spec.md §7 assigns to
// admission, resume, and pause failures.
type ErrorKind string

const (
	ErrQueueFull           ErrorKind = "queue_full"
	ErrFilesystemFull      ErrorKind = "filesystem_full"
	ErrNoSuitableInterface ErrorKind = "no_suitable_interface"
	ErrFailedSecurityCheck ErrorKind = "failed_security_check"
	ErrGeneralError        ErrorKind = "general_error"
	ErrNotInHistory        ErrorKind = "not_in_history"
	ErrNotInterrupted      ErrorKind = "not_interrupted"
	ErrHistoryCorrupt      ErrorKind = "history_corrupt"
	ErrCannotAccessTemp    ErrorKind = "cannot_access_temp"
	ErrInterfaceDown       ErrorKind = "interface_down"
	ErrNoSuchDownloadTask  ErrorKind = "no_such_download_task"
)

// Error wraps an ErrorKind with the underlying cause, if any. Propagation
// policy per spec.md §7: admission/resume/pause failures are returned
// synchronously with a kind and text; mid-transfer failures are never
// surfaced this way, only as terminal events.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("controller: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("controller: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func kindError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
