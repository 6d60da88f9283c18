// Package scheduler implements ticket allocation and admission for the
// transfer queue: it decides whether a new request joins the active set or
// the FIFO admission queue, or is rejected outright, and hands out tickets
// seeded from the history store's high-water mark.
//
// Grounded on internal/transfer/queue.go's Queue (TrackTransfer/Activate/
// Cancel state-transition shape), generalized from a passive GUI-observer
// queue to the admitting scheduler spec.md §4.5 describes.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/record"
)

// RejectReason names why admission failed.
type RejectReason string

const (
	RejectQueueFull           RejectReason = "queue_full"
	RejectNoSuitableInterface RejectReason = "no_suitable_interface"
	RejectFilesystemFull      RejectReason = "filesystem_full"
)

// RejectedError is returned by Admit when a request cannot be admitted.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("scheduler: admission rejected: %s", e.Reason)
}

// SpaceChecker reports whether a destination path's filesystem has crossed
// into the resourceguard "stop" zone, at which point admission is refused.
type SpaceChecker interface {
	IsFull(path string) bool
}

// InterfaceStatus reports which of the named interfaces are currently
// connected, plus WAN's reachability sub-type, for precedence selection.
type InterfaceStatus interface {
	ConnectedMap() map[record.InterfaceName]bool
	WANSubType() record.WANSubType
}

// Request describes one caller-submitted transfer pending admission.
type Request struct {
	Owner             string
	Direction         record.Direction
	RequestedIface    record.InterfaceName // record.Any means "let the scheduler pick"
	DestPath          string               // used only for the space check
	Allow1x           bool
}

// Slot describes where an admitted request landed.
type Slot struct {
	Ticket    record.Ticket
	Interface record.InterfaceName
	Active    bool // false means it was queued, not started
}

// Scheduler tracks the active set and admission queue. It holds no
// TransferAgent or HistoryStore references of its own — the controller
// drives those once a ticket is admitted. A mutex guards state because
// callers (CLI, daemon IPC) may submit concurrently even though the
// controller that later drains the queue runs on a single executor.
type Scheduler struct {
	mu sync.Mutex

	nextTicket   atomic.Uint64
	maxConcurrent int
	maxQueueLen   int

	active map[record.Ticket]record.InterfaceName
	queue  []record.Ticket
}

// New builds a Scheduler. startTicket is the first ticket to hand out,
// normally HistoryStore.MaxTicket()+1.
func New(startTicket record.Ticket, maxConcurrent, maxQueueLen int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = constants.DefaultMaxConcurrent
	}
	if maxQueueLen <= 0 {
		maxQueueLen = constants.DefaultMaxQueueLength
	}
	s := &Scheduler{
		maxConcurrent: maxConcurrent,
		maxQueueLen:   maxQueueLen,
		active:        make(map[record.Ticket]record.InterfaceName),
	}
	s.nextTicket.Store(uint64(startTicket))
	return s
}

// Admit assigns a ticket and decides whether the request starts immediately
// or waits in the FIFO queue, per spec.md §4.5's admission sequence:
// queue-length check, interface selection, 1x-disallowed rejection, then
// the free-space check.
func (s *Scheduler) Admit(req Request, ifaces InterfaceStatus, space SpaceChecker) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active)+len(s.queue) >= s.maxQueueLen {
		return Slot{}, &RejectedError{Reason: RejectQueueFull}
	}

	iface, err := s.pickInterface(req, ifaces)
	if err != nil {
		return Slot{}, err
	}

	if req.DestPath != "" && space != nil && space.IsFull(req.DestPath) {
		return Slot{}, &RejectedError{Reason: RejectFilesystemFull}
	}

	ticket := record.Ticket(s.nextTicket.Add(1) - 1)

	if len(s.active) < s.maxConcurrent {
		s.active[ticket] = iface
		return Slot{Ticket: ticket, Interface: iface, Active: true}, nil
	}

	s.queue = append(s.queue, ticket)
	return Slot{Ticket: ticket, Interface: iface, Active: false}, nil
}

// pickInterface resolves the requested interface against current
// connectivity, applying wired→wifi→wan→btpan precedence when the caller
// asked for record.Any, and rejecting a WAN-only 1x candidate when
// 1x downloads are disallowed.
func (s *Scheduler) pickInterface(req Request, ifaces InterfaceStatus) (record.InterfaceName, error) {
	if req.RequestedIface != "" && req.RequestedIface != record.Any {
		return req.RequestedIface, nil
	}

	status := map[record.InterfaceName]bool{}
	if ifaces != nil {
		status = ifaces.ConnectedMap()
	}

	for _, iface := range []record.InterfaceName{record.Wired, record.Wifi, record.Wan, record.Btpan} {
		if status[iface] {
			if iface == record.Wan && !req.Allow1x && ifaces != nil && ifaces.WANSubType() == record.WAN1x {
				continue
			}
			return iface, nil
		}
	}

	if status[record.Wan] && ifaces != nil && ifaces.WANSubType() == record.WAN1x {
		return "", &RejectedError{Reason: RejectNoSuitableInterface}
	}

	return record.Any, nil
}

// Release removes ticket from the active set following completion,
// cancellation, pause, or interruption, and reports the next queued
// ticket (if any) promoted into its place. The caller is responsible for
// actually starting the promoted ticket's agent session.
func (s *Scheduler) Release(ticket record.Ticket) (promoted record.Ticket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, ticket)

	if len(s.queue) == 0 {
		return 0, false
	}

	next := s.queue[0]
	s.queue = s.queue[1:]
	s.active[next] = record.Any
	return next, true
}

// RemoveQueued removes ticket from the admission queue without promoting
// anything, for cancel-while-queued. It reports whether ticket was found.
func (s *Scheduler) RemoveQueued(ticket record.Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.queue {
		if t == ticket {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// SetInterface updates the interface an active ticket is bound to, used
// after a swap-interface re-admission.
func (s *Scheduler) SetInterface(ticket record.Ticket, iface record.InterfaceName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[ticket]; ok {
		s.active[ticket] = iface
	}
}

// ActiveCount and QueueLength expose the current sizes for ResourceGuard's
// wake-lock edge detection and for tests asserting the cap invariants.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// QueuedTickets returns a snapshot of the queue in FIFO order.
func (s *Scheduler) QueuedTickets() []record.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Ticket, len(s.queue))
	copy(out, s.queue)
	return out
}
