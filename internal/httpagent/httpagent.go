// Package httpagent implements a TransferAgent for the http and https
// schemes: download via GET with Range resume, upload via POST/PUT with a
// streamed body.
//
// Grounded on internal/http/client.go's CreateOptimizedClient (connection
// pool tuning, extended timeouts) and internal/http/retry.go's ClassifyError/
// CalculateBackoff (kept for connect-phase retry, distinct from the
// controller's own resumable-interruption policy), wired to
// github.com/hashicorp/go-retryablehttp for the connect-timeout retry loop
// itself. ForceAttemptHTTP2 is left unset and golang.org/x/net/http2 is not
// imported: this spec's Non-goals exclude HTTP/2 or QUIC.
package httpagent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/constants"
	ihttp "github.com/rescale/transferd/internal/http"
	"github.com/rescale/transferd/internal/record"
)

// Agent implements agent.TransferAgent for http/https.
type Agent struct {
	client *nethttp.Client

	mu       sync.Mutex
	sessions map[agent.SessionID]*session
	nextID   atomic.Uint64
}

type session struct {
	cancel context.CancelFunc
}

// New builds an httpagent.Agent around a connection pool tuned for large
// transfers.
func New() *Agent {
	return &Agent{
		client:   ihttp.NewTransferClient(),
		sessions: make(map[agent.SessionID]*session),
	}
}

func (a *Agent) newSessionID() agent.SessionID {
	return agent.SessionID(a.nextID.Add(1))
}

// Start begins an HTTP/HTTPS session. Downloads issue a Range-aware GET.
// An upload with req.SourceFilePath set sends a multipart POST whose file
// part is streamed from the OnRead callback after any req.PostParameters
// fields; an upload with only parameters sends them as a buffered multipart
// POST; an upload with neither is sent as a PUT with an empty body.
func (a *Agent) Start(ctx context.Context, req agent.StartRequest, cb agent.Callbacks) (agent.SessionID, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	id := a.newSessionID()

	a.mu.Lock()
	a.sessions[id] = &session{cancel: cancel}
	a.mu.Unlock()

	go a.run(sessCtx, id, req, cb)
	return id, nil
}

func (a *Agent) run(ctx context.Context, id agent.SessionID, req agent.StartRequest, cb agent.Callbacks) {
	defer a.forget(id)

	var httpReq *nethttp.Request
	var err error

	switch req.Direction {
	case record.Upload:
		httpReq, err = a.buildUploadRequest(ctx, req, cb)
	default:
		httpReq, err = nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, req.URL, nil)
	}
	if err != nil {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultGeneralError})
		return
	}

	applyCommonHeaders(httpReq, req)

	connectCtx, connectCancel := context.WithTimeout(ctx, constants.ConnectTimeout)
	defer connectCancel()

	resp, err := a.doWithConnectRetry(connectCtx, httpReq)
	if err != nil {
		if connectCtx.Err() == context.DeadlineExceeded {
			cb.OnDone(agent.DoneResult{ResultCode: agent.ResultConnectTimeout})
			return
		}
		if ctx.Err() == context.Canceled {
			cb.OnDone(agent.DoneResult{ResultCode: agent.ResultCancelled})
			return
		}
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultGeneralError})
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			cb.OnHeader(name, v)
		}
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		cb.OnDone(agent.DoneResult{
			ResultCode:    agent.ResultRedirect,
			HTTPStatus:    resp.StatusCode,
			HasHTTPStatus: true,
			Location:      resp.Header.Get("Location"),
		})
		return
	}
	if resp.StatusCode >= 400 {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultHTTPError, HTTPStatus: resp.StatusCode, HasHTTPStatus: true})
		return
	}

	contentLength := resp.ContentLength

	buf := make([]byte, constants.DownloadBufferSize)
	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			cb.OnDone(agent.DoneResult{ResultCode: agent.ResultCancelled})
			return
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			lastActivity = time.Now()
			if !cb.OnWrite(buf[:n]) {
				cb.OnDone(agent.DoneResult{ResultCode: agent.ResultCancelled, HTTPStatus: resp.StatusCode, HasHTTPStatus: true})
				return
			}
		}
		if readErr == io.EOF {
			cb.OnDone(agent.DoneResult{
				ResultCode:       agent.ResultOK,
				HTTPStatus:       resp.StatusCode,
				HasHTTPStatus:    true,
				ContentLength:    contentLength,
				HasContentLength: contentLength >= 0,
			})
			return
		}
		if readErr != nil {
			if ctx.Err() != nil {
				cb.OnDone(agent.DoneResult{ResultCode: agent.ResultCancelled})
				return
			}
			if req.LowSpeedWindow > 0 && time.Since(lastActivity) >= req.LowSpeedWindow {
				cb.OnDone(agent.DoneResult{ResultCode: agent.ResultInterrupted, HTTPStatus: resp.StatusCode, HasHTTPStatus: true})
				return
			}
			cb.OnDone(agent.DoneResult{ResultCode: agent.ResultWriteError, HTTPStatus: resp.StatusCode, HasHTTPStatus: true})
			return
		}
	}
}

func applyCommonHeaders(httpReq *nethttp.Request, req agent.StartRequest) {
	if req.ResumeFromOffset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", req.ResumeFromOffset))
	}
	if req.Cookie != "" {
		httpReq.Header.Set("Cookie", req.Cookie)
	}
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", req.AuthToken)
	}
	if req.DeviceID != "" {
		httpReq.Header.Set("X-Device-Id", req.DeviceID)
	}
	for _, h := range req.CustomHeaders {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) == 2 {
			httpReq.Header.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}
}

// buildUploadRequest builds the multipart POST body for an upload (an upload
// with neither a source file nor PostParameters becomes a PUT with an empty
// body). Plain
// PostParameters-only requests (no source file) are small enough to buffer
// whole; when req.SourceFilePath is set, per original_source/'s
// newFileUploadTask (CURLFORM_FILE), its bytes are streamed through
// cb.OnRead into a multipart file part under req.FileLabel via an io.Pipe so
// the whole file is never held in memory at once.
func (a *Agent) buildUploadRequest(ctx context.Context, req agent.StartRequest, cb agent.Callbacks) (*nethttp.Request, error) {
	if req.SourceFilePath == "" {
		if len(req.PostParameters) == 0 {
			return nethttp.NewRequestWithContext(ctx, nethttp.MethodPut, req.URL, nil)
		}

		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		for _, part := range req.PostParameters {
			fw, err := w.CreateFormField(part.Key)
			if err != nil {
				return nil, err
			}
			if _, err := fw.Write([]byte(part.Data)); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, req.URL, &body)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", w.FormDataContentType())
		return httpReq, nil
	}

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)

	go func() {
		for _, part := range req.PostParameters {
			fw, err := w.CreateFormField(part.Key)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := fw.Write([]byte(part.Data)); err != nil {
				pw.CloseWithError(err)
				return
			}
		}

		label := req.FileLabel
		if label == "" {
			label = "file"
		}
		fw, err := w.CreateFormFile(label, filepath.Base(req.SourceFilePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		buf := make([]byte, constants.DownloadBufferSize)
		for {
			n := cb.OnRead(buf)
			if n <= 0 {
				break
			}
			if _, err := fw.Write(buf[:n]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		if err := w.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, req.URL, pr)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	return httpReq, nil
}

// doWithConnectRetry retries only the connect phase (DNS/TCP/TLS failures)
// using a short-lived retryablehttp client, distinct from the controller's
// own resumable-interruption retry policy for mid-transfer failures.
func (a *Agent) doWithConnectRetry(ctx context.Context, req *nethttp.Request) (*nethttp.Response, error) {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = a.client
	rc.RetryMax = 3
	rc.Logger = nil
	rc.CheckRetry = func(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
		if err == nil {
			return false, nil
		}
		return ihttp.ClassifyError(err) == ihttp.ErrorTypeNetwork, nil
	}
	rc.Backoff = func(minDuration, maxDuration time.Duration, attempt int, resp *nethttp.Response) time.Duration {
		return ihttp.CalculateBackoff(attempt, minDuration, maxDuration)
	}

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return rc.Do(rreq)
}

// Cancel stops session id's in-flight request; its OnDone will report
// ResultCancelled. Idempotent: cancelling a session already finished or
// already cancelled is a no-op.
func (a *Agent) Cancel(id agent.SessionID) {
	a.mu.Lock()
	sess, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
}

// SwapInterface cancels the current session and starts a fresh one bound to
// the new interface, resuming from currentBytesCompleted.
func (a *Agent) SwapInterface(ctx context.Context, id agent.SessionID, iface record.InterfaceName, currentBytesCompleted int64, cb agent.Callbacks) (agent.SessionID, error) {
	a.Cancel(id)
	// The caller (controller) is expected to supply a fresh StartRequest
	// with Interface=iface and ResumeFromOffset=currentBytesCompleted; this
	// agent has no per-session record of the original request to rebuild it
	// from, by design (sessions are opaque once started, per spec.md §4.3).
	return 0, fmt.Errorf("httpagent: SwapInterface requires the controller to re-Start with interface %s at offset %d", iface, currentBytesCompleted)
}

func (a *Agent) forget(id agent.SessionID) {
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}

// parseContentLength parses a Content-Length header value; ok is false for
// an empty or non-numeric value. It is unexported and nothing in this
// package calls it.
func parseContentLength(header string) (int64, bool) {
	if header == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
