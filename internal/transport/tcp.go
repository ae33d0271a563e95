package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"mcpfabric/internal/protocol"
)

// TCPTransport speaks length-prefixed JSON-RPC over a net.Conn. It is
// used both for a server accepting a connection and a client dialing
// one; in both cases the wire framing (framing.go) and the receive
// loop are identical, since the underlying protocol is symmetric.
//
// Grounded on the teacher's httpTransport/stdioTransport pairing
// (mcp.go, mcp_stdio.go): no teacher transport speaks raw TCP, so the
// shape (receive-loop goroutine feeding a callback, mutex-guarded
// writes, connected flag) is carried over from StdioTransport and
// re-targeted at a net.Conn.
type TCPTransport struct {
	conn net.Conn

	logger *slog.Logger
	onReq  RequestCallback
	onResp ResponseCallback
	onErr  ErrorCallback

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTCPTransport wraps an already-established net.Conn (from
// net.Dial or a listener's Accept).
func NewTCPTransport(conn net.Conn, logger *slog.Logger, onReq RequestCallback, onResp ResponseCallback, onErr ErrorCallback) *TCPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPTransport{conn: conn, logger: logger, onReq: onReq, onResp: onResp, onErr: onErr}
}

func (t *TCPTransport) Kind() Kind { return KindTCP }

func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *TCPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.New("transport: tcp already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected = true
	t.mu.Unlock()

	go t.receiveLoop(loopCtx)
	return nil
}

func (t *TCPTransport) receiveLoop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		body, err := readFrame(t.conn)
		if err != nil {
			t.markDisconnected()
			t.logger.Warn("tcp transport: read failed", "error", err)
			if t.onErr != nil {
				t.onErr(err)
			}
			return
		}

		if req, derr := protocol.DecodeRequest(body); derr == nil && req.Method != "" {
			if t.onReq != nil {
				t.onReq(req)
			}
			continue
		}
		if resp, derr := protocol.DecodeResponse(body); derr == nil {
			if t.onResp != nil {
				t.onResp(resp)
			}
			continue
		}
		t.logger.Warn("tcp transport: received frame that parses as neither request nor response")
	}
}

func (t *TCPTransport) markDisconnected() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *TCPTransport) Send(req *protocol.Request) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.conn, data)
}

func (t *TCPTransport) SendResponse(resp *protocol.Response) error {
	data, err := resp.Marshal()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.conn, data)
}

func (t *TCPTransport) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	connected := t.connected
	t.connected = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := t.conn.Close()
	if connected && t.done != nil {
		<-t.done
	}
	return err
}
