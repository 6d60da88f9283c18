package httpagent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/record"
)

func TestStartDownloadCompletesHappyPath(t *testing.T) {
	payload := []byte("hello world, this is a test transfer payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	a := New()

	var mu sync.Mutex
	var received []byte
	done := make(chan agent.DoneResult, 1)

	_, err := a.Start(context.Background(), agent.StartRequest{
		Direction: record.Download,
		URL:       srv.URL,
	}, agent.Callbacks{
		OnHeader: func(name, value string) {},
		OnWrite: func(chunk []byte) bool {
			mu.Lock()
			received = append(received, chunk...)
			mu.Unlock()
			return true
		},
		OnDone: func(r agent.DoneResult) { done <- r },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case result := <-done:
		if result.ResultCode != agent.ResultOK {
			t.Fatalf("ResultCode = %v, want ResultOK", result.ResultCode)
		}
		if result.HTTPStatus != 200 {
			t.Errorf("HTTPStatus = %d, want 200", result.HTTPStatus)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDone")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(payload) {
		t.Errorf("received %q, want %q", received, payload)
	}
}

func TestStartDownloadReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := New()
	done := make(chan agent.DoneResult, 1)

	_, err := a.Start(context.Background(), agent.StartRequest{
		Direction: record.Download,
		URL:       srv.URL,
	}, agent.Callbacks{
		OnHeader: func(name, value string) {},
		OnWrite:  func(chunk []byte) bool { return true },
		OnDone:   func(r agent.DoneResult) { done <- r },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case result := <-done:
		if result.ResultCode != agent.ResultHTTPError {
			t.Fatalf("ResultCode = %v, want ResultHTTPError", result.ResultCode)
		}
		if result.HTTPStatus != 404 {
			t.Errorf("HTTPStatus = %d, want 404", result.HTTPStatus)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDone")
	}
}

func TestStartDownloadReportsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	a := New()
	done := make(chan agent.DoneResult, 1)

	_, err := a.Start(context.Background(), agent.StartRequest{
		Direction: record.Download,
		URL:       srv.URL,
	}, agent.Callbacks{
		OnHeader: func(name, value string) {},
		OnWrite:  func(chunk []byte) bool { return true },
		OnDone:   func(r agent.DoneResult) { done <- r },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case result := <-done:
		if result.ResultCode != agent.ResultRedirect {
			t.Fatalf("ResultCode = %v, want ResultRedirect", result.ResultCode)
		}
		if result.Location == "" {
			t.Error("expected Location to be set on redirect result")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDone")
	}
}

func TestStartUploadStreamsRealFileAsMultipartFile(t *testing.T) {
	want := []byte("payload bytes for the multipart file part, long enough to span chunks")
	srcPath := filepath.Join(t.TempDir(), "upload.bin")
	if err := os.WriteFile(srcPath, want, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	var gotFileBytes []byte
	var gotFormField string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		gotFormField = r.FormValue("owner")
		file, _, err := r.FormFile("my-file-label")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer file.Close()
		gotFileBytes, err = io.ReadAll(file)
		if err != nil {
			t.Errorf("ReadAll file part: %v", err)
		}
	}))
	defer srv.Close()

	a := New()
	done := make(chan agent.DoneResult, 1)

	f, err := os.Open(srcPath)
	if err != nil {
		t.Fatalf("open source file: %v", err)
	}
	defer f.Close()

	_, err = a.Start(context.Background(), agent.StartRequest{
		Direction:      record.Upload,
		URL:            srv.URL,
		SourceFilePath: srcPath,
		FileLabel:      "my-file-label",
		PostParameters: []record.UploadPart{{Key: "owner", Data: "owner-1"}},
	}, agent.Callbacks{
		OnHeader: func(name, value string) {},
		OnRead: func(buf []byte) int {
			n, _ := f.Read(buf)
			return n
		},
		OnDone: func(r agent.DoneResult) { done <- r },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case result := <-done:
		if result.ResultCode != agent.ResultOK {
			t.Fatalf("ResultCode = %v, want ResultOK", result.ResultCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDone")
	}

	if string(gotFileBytes) != string(want) {
		t.Errorf("uploaded file bytes = %q, want %q", gotFileBytes, want)
	}
	if gotFormField != "owner-1" {
		t.Errorf("form field owner = %q, want %q", gotFormField, "owner-1")
	}
}

func TestCancelStopsSessionAndReportsCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first chunk"))
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	a := New()
	done := make(chan agent.DoneResult, 1)

	sessID, err := a.Start(context.Background(), agent.StartRequest{
		Direction: record.Download,
		URL:       srv.URL,
	}, agent.Callbacks{
		OnHeader: func(name, value string) {},
		OnWrite:  func(chunk []byte) bool { return true },
		OnDone:   func(r agent.DoneResult) { done <- r },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	a.Cancel(sessID)

	select {
	case result := <-done:
		if result.ResultCode != agent.ResultCancelled {
			t.Errorf("ResultCode = %v, want ResultCancelled", result.ResultCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDone after cancel")
	}
}
