// Package transport implements the pluggable wire layer described in
// spec.md §4.1/§5: a polymorphic Transport interface plus concrete TCP,
// stdio, WebSocket and HTTP implementations.
//
// Grounded on the teacher's MCPTransport interface (mcp.go) and its
// httpTransport/stdioTransport implementations, generalized for
// bidirectional client use and for length-prefixed stream framing
// (the teacher's stdio transport is newline-delimited, which this
// package's wire contract does not allow — see framing.go).
package transport

import (
	"context"
	"errors"

	"mcpfabric/internal/protocol"
)

// Kind identifies a transport's wire discipline.
type Kind int

const (
	KindTCP Kind = iota
	KindStdio
	KindWebSocket
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindStdio:
		return "stdio"
	case KindWebSocket:
		return "websocket"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// ErrTransportClosed is a sentinel for a closed transport. No transport
// in this package returns it: Send after Stop reports the error of the
// underlying writer or connection instead.
var ErrTransportClosed = errors.New("transport closed")

// ErrorCallback is invoked exactly once, from the transport's own
// receive goroutine, when a transport-level failure makes the
// connection unusable (read error, remote close, decode failure on a
// stream where framing cannot recover). It must never be called
// concurrently with itself.
type ErrorCallback func(err error)

// RequestCallback is invoked once per inbound JSON-RPC request/
// notification received on a listening (server-side) transport.
type RequestCallback func(req *protocol.Request)

// Transport is the polymorphic interface every concrete wire
// implementation satisfies. Stream transports (TCP, stdio, WebSocket)
// run an internal receive loop after Start and deliver inbound
// messages asynchronously; synchronous transports (HTTP) have no
// receive loop and reject Send: HTTPClientTransport performs the
// request/response round trip in RoundTrip instead.
type Transport interface {
	// Kind reports which wire discipline this transport speaks.
	Kind() Kind

	// IsConnected reports whether the transport is currently usable.
	IsConnected() bool

	// Start begins any background receive loop. For synchronous
	// transports this is a no-op.
	Start(ctx context.Context) error

	// Stop tears the transport down. Safe to call more than once.
	Stop() error

	// Send writes a request envelope. Async transports return once the
	// bytes are queued/written; the response (if any) arrives later via
	// the response callback registered at construction.
	Send(req *protocol.Request) error

	// SendResponse writes a response envelope, used by server-side
	// transports replying to an inbound request.
	SendResponse(resp *protocol.Response) error
}

// ResponseCallback is invoked once per inbound JSON-RPC response
// received on a dialing (client-side) stream transport.
type ResponseCallback func(resp *protocol.Response)
