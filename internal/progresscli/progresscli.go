// Package progresscli renders a single transfer's live events.ProgressEvent
// stream as a terminal progress bar, for the transferd CLI's "run"
// subcommand. It is not part of the daemon's RPC surface; a real client
// renders progress however it likes from the same event stream.
package progresscli

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/transferd/internal/events"
	"github.com/rescale/transferd/internal/record"
)

// Bar renders one ticket's progress, completion, or cancellation.
type Bar struct {
	bar   *progressbar.ProgressBar
	label string
}

// New creates a Bar for label (typically the transfer's target URL). total
// of 0 means unknown; the bar switches to a determinate fill once the first
// ProgressEvent reports a nonzero total.
func New(label string, total int64) *Bar {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &Bar{bar: bar, label: label}
}

// Watch blocks on ch, updating the bar on every progress event, until it
// observes ticket's terminal event.
func (b *Bar) Watch(ticket record.Ticket, ch <-chan events.Event) (completed bool, err error) {
	for ev := range ch {
		if ev.Ticket() != ticket {
			continue
		}
		switch e := ev.(type) {
		case *events.ProgressEvent:
			b.update(e)
		case *events.TerminalEvent:
			return b.finish(e)
		}
	}
	return false, fmt.Errorf("progresscli: event channel closed before a terminal event for ticket %d", ticket)
}

func (b *Bar) update(e *events.ProgressEvent) {
	received := record.ParseEDecimal(e.EAmountReceived, e.AmountReceived)
	total := record.ParseEDecimal(e.EAmountTotal, e.AmountTotal)
	if total > 0 {
		b.bar.ChangeMax64(total)
	}
	_ = b.bar.Set64(received)
}

func (b *Bar) finish(e *events.TerminalEvent) (bool, error) {
	if e.Completed {
		_ = b.bar.Finish()
		return true, nil
	}

	fmt.Fprintf(os.Stderr, "\n%s: status code %d", b.label, e.CompletionStatusCode)
	if e.HasHTTPStatus {
		fmt.Fprintf(os.Stderr, " (http %d)", e.HTTPStatus)
	}
	fmt.Fprintln(os.Stderr)
	return false, fmt.Errorf("transfer ended with status code %d", e.CompletionStatusCode)
}
