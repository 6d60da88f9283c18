package progresscli

import (
	"testing"

	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/record"
)

func TestWatchReturnsOnCompletedTerminalEvent(t *testing.T) {
	ticket := record.Ticket(7)
	ch := make(chan events.Event, 4)
	ch <- events.NewProgress(ticket, 50, 100)
	ch <- events.NewTerminal(ticket, events.KindCompleted, record.Record{}, 0, 0, false, true, false, false, "https://example.com/file")
	close(ch)

	bar := New("https://example.com/file", 100)
	completed, err := bar.Watch(ticket, ch)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !completed {
		t.Fatalf("expected completed=true")
	}
}

func TestWatchReturnsErrorOnCancelledTerminalEvent(t *testing.T) {
	ticket := record.Ticket(8)
	ch := make(chan events.Event, 2)
	ch <- events.NewTerminal(ticket, events.KindCancelled, record.Record{}, 6, 0, false, false, true, false, "https://example.com/file")
	close(ch)

	bar := New("https://example.com/file", 100)
	completed, err := bar.Watch(ticket, ch)
	if err == nil {
		t.Fatalf("expected an error for a cancelled transfer")
	}
	if completed {
		t.Fatalf("expected completed=false")
	}
}

func TestWatchIgnoresOtherTicketEvents(t *testing.T) {
	ticket := record.Ticket(1)
	ch := make(chan events.Event, 3)
	ch <- events.NewTerminal(record.Ticket(2), events.KindCompleted, record.Record{}, 0, 0, false, true, false, false, "other")
	ch <- events.NewTerminal(ticket, events.KindCompleted, record.Record{}, 0, 0, false, true, false, false, "mine")
	close(ch)

	bar := New("mine", 10)
	completed, err := bar.Watch(ticket, ch)
	if err != nil || !completed {
		t.Fatalf("expected completed=true, nil error; got completed=%v err=%v", completed, err)
	}
}
