// Package events implements the EventPublisher: ticket-keyed delivery of
// progress and terminal events to subscribers. Delivery is best-effort and
// never blocks the controller.
//
// Adapted from the teacher's internal/events/events.go EventBus (buffered
// per-subscriber channels, non-blocking publish, dropped-event counter),
// generalized from job-name-keyed GUI events to the ticket-keyed progress/
// terminal events spec.md §6 describes.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/record"
)

// Kind enumerates the event shapes a ticket's subscription can see.
type Kind string

const (
	KindProgress    Kind = "progress"
	KindPaused      Kind = "paused"
	KindInterrupted Kind = "interrupted"
	KindCompleted   Kind = "completed"
	KindCancelled   Kind = "cancelled"
)

// Event is the common interface for everything the bus delivers.
type Event interface {
	Ticket() record.Ticket
	Kind() Kind
	Timestamp() time.Time
}

type base struct {
	TicketID record.Ticket
	K        Kind
	At       time.Time
}

func (b base) Ticket() record.Ticket { return b.TicketID }
func (b base) Kind() Kind            { return b.K }
func (b base) Timestamp() time.Time  { return b.At }

// ProgressEvent carries the progress payload fields from spec.md §6:
// ticket, amountReceived (32-bit) / e_amountReceived, amountTotal / e_amountTotal.
type ProgressEvent struct {
	base
	AmountReceived  int32
	EAmountReceived string
	AmountTotal     int32
	EAmountTotal    string
}

// TerminalEvent is the single terminal event per ticket: the full record
// plus the completion fields spec.md §6 requires.
type TerminalEvent struct {
	base
	Record               record.Record
	CompletionStatusCode int
	HTTPStatus           int
	HasHTTPStatus        bool
	Interrupted          bool
	Completed            bool
	Aborted              bool
	Target                string
}

// PauseEvent and InterruptEvent are the optional non-terminal transitions
// spec.md §4.7 allows between progress events and the terminal event.
type PauseEvent struct {
	base
	Reason string
}

type InterruptEvent struct {
	base
	Reason string
}

// NewProgress builds a progress event from a current byte position, deriving
// both the truncated and authoritative e_-prefixed forms.
func NewProgress(ticket record.Ticket, received, total int64) *ProgressEvent {
	rt, re := record.EDecimal(received)
	tt, te := record.EDecimal(total)
	return &ProgressEvent{
		base:            base{TicketID: ticket, K: KindProgress, At: time.Now()},
		AmountReceived:  rt,
		EAmountReceived: re,
		AmountTotal:     tt,
		EAmountTotal:    te,
	}
}

// NewTerminal builds the single terminal event for ticket. kind must be
// one of KindCompleted or KindCancelled; callers outside this package
// cannot set the embedded base directly since its fields are unexported.
func NewTerminal(ticket record.Ticket, kind Kind, rec record.Record, completionCode, httpStatus int, hasHTTPStatus, completed, aborted, interrupted bool, target string) *TerminalEvent {
	return &TerminalEvent{
		base:                 base{TicketID: ticket, K: kind, At: time.Now()},
		Record:               rec,
		CompletionStatusCode: completionCode,
		HTTPStatus:           httpStatus,
		HasHTTPStatus:        hasHTTPStatus,
		Interrupted:          interrupted,
		Completed:            completed,
		Aborted:              aborted,
		Target:               target,
	}
}

// NewPause builds a non-terminal pause transition event for ticket.
func NewPause(ticket record.Ticket, reason string) *PauseEvent {
	return &PauseEvent{base: base{TicketID: ticket, K: KindPaused, At: time.Now()}, Reason: reason}
}

// NewInterrupt builds a non-terminal interruption transition event for
// ticket.
func NewInterrupt(ticket record.Ticket, reason string) *InterruptEvent {
	return &InterruptEvent{base: base{TicketID: ticket, K: KindInterrupted, At: time.Now()}, Reason: reason}
}

// Bus manages per-ticket and subscribe-all event delivery.
type Bus struct {
	mu          sync.RWMutex
	perTicket   map[record.Ticket][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewBus creates an event bus with the given per-subscriber buffer size,
// capped at constants.EventBusMaxBuffer; a size of 0 or less uses
// constants.EventBusDefaultBuffer.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &Bus{
		perTicket:  make(map[record.Ticket][]chan Event),
		bufferSize: bufferSize,
	}
}

// Subscribe returns a channel receiving only events for ticket.
func (b *Bus) Subscribe(ticket record.Ticket) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.perTicket[ticket] = append(b.perTicket[ticket], ch)
	return ch
}

// SubscribeAll returns a channel receiving every event published, regardless
// of ticket. Useful for a status/monitoring consumer.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish delivers event to ticket-specific and subscribe-all subscribers,
// never blocking: a full subscriber buffer drops the event and increments
// the dropped-event counter instead.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.perTicket[event.Ticket()] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// UnsubscribeTicket removes ch from ticket's subscriber list. Call this once
// a ticket's terminal event has been observed to avoid leaking the channel.
func (b *Bus) UnsubscribeTicket(ticket record.Ticket, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.perTicket[ticket]
	for i, sub := range subs {
		if sub == ch {
			subs[i] = subs[len(subs)-1]
			b.perTicket[ticket] = subs[:len(subs)-1]
			break
		}
	}
	if len(b.perTicket[ticket]) == 0 {
		delete(b.perTicket, ticket)
	}
}

// ForgetTicket drops all bookkeeping for a ticket's subscriber list without
// requiring the caller to hold individual channel references; used by the
// controller once a record is destroyed after its terminal transition.
func (b *Bus) ForgetTicket(ticket record.Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.perTicket[ticket] {
		close(ch)
	}
	delete(b.perTicket, ticket)
}

// DroppedEventCount returns the number of events dropped due to full
// subscriber buffers, for monitoring.
func (b *Bus) DroppedEventCount() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.perTicket {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
