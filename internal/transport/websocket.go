package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mcpfabric/internal/protocol"
)

// WebSocketTransport carries one JSON-RPC message per WebSocket text
// frame (no length-prefix framing; WebSocket already frames messages).
//
// The teacher hand-rolls RFC 6455 itself (websocket.go,
// internal/ws/frame.go, internal/ws/handshake.go) but only ever
// exercises gorilla/websocket from its own test suite
// (websocket_test.go). Per the rule to prefer the ecosystem library the
// pack already depends on over hand-rolled wire code, this transport
// makes gorilla/websocket a production dependency instead of a
// test-only one.
type WebSocketTransport struct {
	conn *websocket.Conn

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

// Upgrader wraps gorilla's websocket.Upgrader for server-side use.
var Upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
}

// NewWebSocketServerTransport upgrades an HTTP request to a WebSocket
// connection and wraps it as a Transport.
func NewWebSocketServerTransport(w http.ResponseWriter, r *http.Request, logger *slog.Logger, onReq RequestCallback, onErr ErrorCallback) (*WebSocketTransport, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketTransport(conn, logger, onReq, nil, onErr), nil
}

// DialWebSocket dials a WebSocket server and wraps the connection as a
// client-side Transport.
func DialWebSocket(ctx context.Context, url string, logger *slog.Logger, onResp ResponseCallback, onErr ErrorCallback) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketTransport(conn, logger, nil, onResp, onErr), nil
}

func newWebSocketTransport(conn *websocket.Conn, logger *slog.Logger, onReq RequestCallback, onResp ResponseCallback, onErr ErrorCallback) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{conn: conn, logger: logger, onReq: onReq, onResp: onResp, onErr: onErr}
}

func (t *WebSocketTransport) Kind() Kind { return KindWebSocket }

func (t *WebSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *WebSocketTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.New("transport: websocket already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected = true
	t.mu.Unlock()

	go t.receiveLoop(loopCtx)
	return nil
}

func (t *WebSocketTransport) receiveLoop(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, body, err := t.conn.ReadMessage()
		if err != nil {
			t.markDisconnected()
			t.logger.Warn("websocket transport: read failed", "error", err)
			if t.onErr != nil {
				t.onErr(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
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
		t.logger.Warn("websocket transport: received message that parses as neither request nor response")
	}
}

func (t *WebSocketTransport) markDisconnected() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *WebSocketTransport) Send(req *protocol.Request) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) SendResponse(resp *protocol.Response) error {
	data, err := resp.Marshal()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) Stop() error {
	t.mu.Lock()
	cancel := t.cancel
	connected := t.connected
	t.connected = false
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := t.conn.Close()
	if connected && t.done != nil {
		<-t.done
	}
	return err
}
