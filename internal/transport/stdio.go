package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"mcpfabric/internal/protocol"
)

// StdioTransport speaks length-prefixed JSON-RPC over an arbitrary
// io.Reader/io.Writer pair (os.Stdin/os.Stdout, or a subprocess's
// pipes); the caller always supplies both.
//
// Grounded on the teacher's stdioTransport (mcp_stdio.go), which scans
// newline-delimited JSON with a bufio.Scanner. That framing cannot
// carry a payload containing an embedded newline (a binary resource
// read, for instance), so this version is generalized to the 4-byte
// length-prefixed framing every other stream transport uses (see
// SPEC_FULL.md §5.1). writeMu serializes writes from concurrent
// callers; mu guards the connection state. Reads need no lock since
// only the receive loop goroutine reads.
type StdioTransport struct {
	r io.Reader
	w io.Writer

	logger   *slog.Logger
	onReq    RequestCallback
	onResp   ResponseCallback
	onErr    ErrorCallback

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewStdioTransport builds a stdio transport over r/w. onReq is invoked
// for inbound requests/notifications (server role); onResp is invoked
// for inbound responses (client role). A transport only needs whichever
// of the two its role uses; the other may be nil.
func NewStdioTransport(r io.Reader, w io.Writer, logger *slog.Logger, onReq RequestCallback, onResp ResponseCallback, onErr ErrorCallback) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{r: r, w: w, logger: logger, onReq: onReq, onResp: onResp, onErr: onErr}
}

func (t *StdioTransport) Kind() Kind { return KindStdio }

func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Start launches the receive loop. It returns once the loop goroutine
// is running; the loop itself runs until ctx is canceled, Stop is
// called, or the reader reaches EOF/an unrecoverable framing error.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.New("transport: stdio already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected = true
	t.mu.Unlock()

	go t.receiveLoop(loopCtx)
	return nil
}

func (t *StdioTransport) receiveLoop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		body, err := readFrame(t.r)
		if err != nil {
			t.markDisconnected()
			if errors.Is(err, io.EOF) {
				t.logger.Debug("stdio transport: EOF, shutting down")
			} else {
				t.logger.Warn("stdio transport: read failed", "error", err)
			}
			if t.onErr != nil {
				t.onErr(err)
			}
			return
		}

		t.dispatch(body)
	}
}

func (t *StdioTransport) dispatch(body []byte) {
	// A frame that decodes with a non-empty "method" is a request; any
	// other frame that decodes as a JSON object is delivered as a
	// response.
	if req, err := protocol.DecodeRequest(body); err == nil && req.Method != "" {
		if t.onReq != nil {
			t.onReq(req)
		}
		return
	}
	if resp, err := protocol.DecodeResponse(body); err == nil {
		if t.onResp != nil {
			t.onResp(resp)
		}
		return
	}
	t.logger.Warn("stdio transport: received frame that parses as neither request nor response")
}

func (t *StdioTransport) markDisconnected() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *StdioTransport) Send(req *protocol.Request) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.w, data)
}

func (t *StdioTransport) SendResponse(resp *protocol.Response) error {
	data, err := resp.Marshal()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.w, data)
}

func (t *StdioTransport) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	connected := t.connected
	t.connected = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if connected && t.done != nil {
		<-t.done
	}
	return nil
}
