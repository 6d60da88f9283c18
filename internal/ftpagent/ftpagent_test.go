package ftpagent

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/record"
)

func TestCancelUnknownSessionIsNoop(t *testing.T) {
	a := New()
	a.Cancel(agent.SessionID(999)) // must not panic
}

func TestSwapInterfaceAlwaysRequiresRestart(t *testing.T) {
	a := New()
	_, err := a.SwapInterface(context.Background(), agent.SessionID(1), record.Wired, 1024, agent.Callbacks{})
	if err == nil {
		t.Fatal("expected SwapInterface to report that the controller must re-Start")
	}
}

func TestCopyFromCallbackStreamsAllChunksUntilEOF(t *testing.T) {
	chunks := [][]byte{[]byte("hello "), []byte("world"), []byte("!")}
	var calls int
	read := func(buf []byte) int {
		if calls >= len(chunks) {
			return 0
		}
		n := copy(buf, chunks[calls])
		calls++
		return n
	}

	var out bytes.Buffer
	if err := copyFromCallback(&out, read); err != nil {
		t.Fatalf("copyFromCallback: %v", err)
	}
	if out.String() != "hello world!" {
		t.Errorf("got %q, want %q", out.String(), "hello world!")
	}
}

func TestCopyFromCallbackStopsOnWriteError(t *testing.T) {
	read := func(buf []byte) int {
		return copy(buf, []byte("data"))
	}
	writeErr := errors.New("write failed")
	w := failingWriter{err: writeErr}

	if err := copyFromCallback(w, read); !errors.Is(err, writeErr) {
		t.Fatalf("expected write error to propagate, got %v", err)
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestStartUnreachableHostReportsConnectTimeout(t *testing.T) {
	a := New()
	done := make(chan agent.DoneResult, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := a.Start(ctx, agent.StartRequest{
		Direction: record.Download,
		URL:       "ftp://127.0.0.1:1", // nothing listens here
	}, agent.Callbacks{
		OnHeader: func(name, value string) {},
		OnWrite:  func(chunk []byte) bool { return true },
		OnDone:   func(r agent.DoneResult) { done <- r },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	result := <-done
	if result.ResultCode != agent.ResultConnectTimeout {
		t.Errorf("ResultCode = %v, want ResultConnectTimeout", result.ResultCode)
	}
}
