package events

import (
	"testing"
	"time"

	"github.com/rescale/transferd/internal/record"
)

func TestSubscribeDeliversOnlyMatchingTicket(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	subA := b.Subscribe(1)
	subB := b.Subscribe(2)

	b.Publish(NewProgress(1, 100, 1000))

	select {
	case ev := <-subA:
		if ev.Ticket() != 1 {
			t.Errorf("ticket = %d, want 1", ev.Ticket())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ticket 1 event")
	}

	select {
	case ev := <-subB:
		t.Fatalf("ticket 2 subscriber should not have received an event: %+v", ev)
	default:
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	all := b.SubscribeAll()
	b.Publish(NewProgress(1, 1, 2))
	b.Publish(NewProgress(2, 1, 2))

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublishNonBlockingDropsWhenFull(t *testing.T) {
	b := NewBus(1)
	defer b.Close()

	sub := b.Subscribe(1)
	b.Publish(NewProgress(1, 1, 10))
	b.Publish(NewProgress(1, 2, 10))
	b.Publish(NewProgress(1, 3, 10))

	if got := b.DroppedEventCount(); got != 2 {
		t.Errorf("DroppedEventCount = %d, want 2", got)
	}

	select {
	case <-sub:
	default:
		t.Fatal("expected buffered event still available")
	}
}

func TestForgetTicketClosesSubscribers(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	sub := b.Subscribe(7)
	b.ForgetTicket(7)

	_, ok := <-sub
	if ok {
		t.Error("expected channel to be closed after ForgetTicket")
	}
}

func TestTerminalEventCarriesRecordSnapshot(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	sub := b.Subscribe(5)
	rec := record.Record{Ticket: 5, State: record.StateCompleted}
	b.Publish(&TerminalEvent{
		base:      base{TicketID: 5, K: KindCompleted, At: time.Now()},
		Record:    rec,
		Completed: true,
	})

	select {
	case ev := <-sub:
		term, ok := ev.(*TerminalEvent)
		if !ok {
			t.Fatalf("got %T, want *TerminalEvent", ev)
		}
		if term.Record.Ticket != 5 || !term.Completed {
			t.Errorf("unexpected terminal event: %+v", term)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func TestCloseClosesAllSubscriberChannels(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe(1)
	all := b.SubscribeAll()

	b.Close()

	if _, ok := <-sub; ok {
		t.Error("expected per-ticket channel closed")
	}
	if _, ok := <-all; ok {
		t.Error("expected subscribe-all channel closed")
	}
}
