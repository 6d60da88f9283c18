// Package ftpagent implements a TransferAgent for the ftp scheme, using
// github.com/jlaffaye/ftp as the underlying client so the scheme requirement
// in spec.md §6 ("target URL scheme must be http, https, or ftp") is backed
// by a real client rather than a stub.
package ftpagent

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jlaffaye/ftp"

	"github.com/rescale/transferd/internal/agent"
	"github.com/rescale/transferd/internal/constants"
	"github.com/rescale/transferd/internal/record"
)

// Agent implements agent.TransferAgent for ftp://.
type Agent struct {
	mu       sync.Mutex
	sessions map[agent.SessionID]*session
	nextID   atomic.Uint64
}

type session struct {
	cancel context.CancelFunc
	conn   *ftp.ServerConn
}

// New builds an ftpagent.Agent.
func New() *Agent {
	return &Agent{sessions: make(map[agent.SessionID]*session)}
}

func (a *Agent) newSessionID() agent.SessionID {
	return agent.SessionID(a.nextID.Add(1))
}

// Start begins an FTP session: dial, optionally authenticate, and either
// RETR (download, resuming via REST at ResumeFromOffset) or STOR (upload,
// streaming from OnRead).
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

	u, err := url.Parse(req.URL)
	if err != nil {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultGeneralError})
		return
	}

	host := u.Host
	if u.Port() == "" {
		host = u.Host + ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(constants.ConnectTimeout))
	if err != nil {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultConnectTimeout})
		return
	}
	defer conn.Quit()

	a.mu.Lock()
	if s, ok := a.sessions[id]; ok {
		s.conn = conn
	}
	a.mu.Unlock()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	} else if req.AuthToken != "" {
		user, pass = req.AuthToken, ""
	}
	if err := conn.Login(user, pass); err != nil {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultHTTPError})
		return
	}

	if req.Direction == record.Upload {
		a.runUpload(ctx, conn, u.Path, cb)
		return
	}
	a.runDownload(ctx, conn, u.Path, req.ResumeFromOffset, cb)
}

func (a *Agent) runDownload(ctx context.Context, conn *ftp.ServerConn, path string, resumeFrom int64, cb agent.Callbacks) {
	size, _ := conn.FileSize(path)

	var resp *ftp.Response
	var err error
	if resumeFrom > 0 {
		resp, err = conn.RetrFrom(path, uint64(resumeFrom))
	} else {
		resp, err = conn.Retr(path)
	}
	if err != nil {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultGeneralError})
		return
	}
	defer resp.Close()

	cb.OnHeader("Content-Length", strconv.FormatInt(size, 10))

	buf := make([]byte, constants.DownloadBufferSize)
	for {
		select {
		case <-ctx.Done():
			cb.OnDone(agent.DoneResult{ResultCode: agent.ResultCancelled})
			return
		default:
		}

		n, err := resp.Read(buf)
		if n > 0 {
			if !cb.OnWrite(buf[:n]) {
				cb.OnDone(agent.DoneResult{ResultCode: agent.ResultCancelled})
				return
			}
		}
		if err != nil {
			if err.Error() == "EOF" {
				cb.OnDone(agent.DoneResult{ResultCode: agent.ResultOK, ContentLength: size, HasContentLength: size > 0})
				return
			}
			cb.OnDone(agent.DoneResult{ResultCode: agent.ResultWriteError})
			return
		}
	}
}

func (a *Agent) runUpload(ctx context.Context, conn *ftp.ServerConn, path string, cb agent.Callbacks) {
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		copyFromCallback(pw, cb.OnRead)
	}()

	if err := conn.Stor(path, pr); err != nil {
		cb.OnDone(agent.DoneResult{ResultCode: agent.ResultGeneralError})
		return
	}
	cb.OnDone(agent.DoneResult{ResultCode: agent.ResultOK})
}

// copyFromCallback drains read in DownloadBufferSize chunks into w until read
// returns <= 0 (EOF or error) or w rejects a write. Factored out of runUpload
// so the streaming loop is unit-testable without a real FTP server.
func copyFromCallback(w io.Writer, read func([]byte) int) error {
	buf := make([]byte, constants.DownloadBufferSize)
	for {
		n := read(buf)
		if n <= 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// Cancel stops session id's connection; idempotent.
func (a *Agent) Cancel(id agent.SessionID) {
	a.mu.Lock()
	sess, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
}

// SwapInterface is not meaningful for an FTP control-connection session
// bound at Dial time without re-establishing the connection; like
// httpagent, the controller is expected to Cancel then Start fresh.
func (a *Agent) SwapInterface(ctx context.Context, id agent.SessionID, iface record.InterfaceName, currentBytesCompleted int64, cb agent.Callbacks) (agent.SessionID, error) {
	a.Cancel(id)
	return 0, fmt.Errorf("ftpagent: SwapInterface requires the controller to re-Start with interface %s at offset %d", iface, currentBytesCompleted)
}

func (a *Agent) forget(id agent.SessionID) {
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}
