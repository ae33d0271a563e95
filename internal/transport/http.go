package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"mcpfabric/internal/protocol"
)

// HTTPServerTransport carries one JSON request body in, one JSON
// response body out, per spec.md's synchronous request/reply contract
// for the HTTP transport. Grounded directly on the teacher's
// httpTransport (mcp.go): same Content-Type checks, same "decode body,
// encode response" shape, generalized from the teacher's single-shot
// http.Handler invocation into a Transport implementation the
// dispatcher can use uniformly alongside the stream transports.
type HTTPServerTransport struct {
	w http.ResponseWriter
	r *http.Request
}

// NewHTTPServerTransport wraps a single HTTP request/response pair.
func NewHTTPServerTransport(w http.ResponseWriter, r *http.Request) *HTTPServerTransport {
	return &HTTPServerTransport{w: w, r: r}
}

func (t *HTTPServerTransport) Kind() Kind { return KindHTTP }

// IsConnected is always true for the lifetime of a single HTTP exchange.
func (t *HTTPServerTransport) IsConnected() bool { return true }

// Start is a no-op; HTTP has no background receive loop.
func (t *HTTPServerTransport) Start(ctx context.Context) error { return nil }

// Stop is a no-op; the surrounding http.Handler owns the connection.
func (t *HTTPServerTransport) Stop() error { return nil }

// ReceiveRequest decodes the inbound JSON-RPC request from the HTTP
// body. Unlike the stream transports, HTTP has no receive loop: the
// dispatcher calls this directly, processes it, and replies with
// SendResponse within the same handler invocation.
func (t *HTTPServerTransport) ReceiveRequest() (*protocol.Request, error) {
	if t.r.Method != http.MethodPost {
		return nil, fmt.Errorf("transport: method not allowed: %s", t.r.Method)
	}
	if !strings.Contains(t.r.Header.Get("Content-Type"), "application/json") {
		return nil, fmt.Errorf("transport: Content-Type must be application/json")
	}
	var req protocol.Request
	if err := json.NewDecoder(t.r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("transport: failed to decode request: %w", err)
	}
	return &req, nil
}

func (t *HTTPServerTransport) Send(req *protocol.Request) error {
	return fmt.Errorf("transport: HTTPServerTransport.Send is not supported, use ReceiveRequest/SendResponse")
}

func (t *HTTPServerTransport) SendResponse(resp *protocol.Response) error {
	t.w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(t.w).Encode(resp)
}

// HTTPClientTransport performs a synchronous client-side round trip:
// POST the request, decode the response body, verify the RID matches.
// Used by mcpclient's sync path for HTTP-backed servers (spec.md §4.3,
// "the sync algorithm for HTTP/WS-request-reply").
type HTTPClientTransport struct {
	endpoint string
	client   *http.Client
	apiKey   string
}

// NewHTTPClientTransport builds a client transport against endpoint.
func NewHTTPClientTransport(endpoint string, client *http.Client, apiKey string) *HTTPClientTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClientTransport{endpoint: endpoint, client: client, apiKey: apiKey}
}

func (t *HTTPClientTransport) Kind() Kind          { return KindHTTP }
func (t *HTTPClientTransport) IsConnected() bool   { return true }
func (t *HTTPClientTransport) Start(ctx context.Context) error { return nil }
func (t *HTTPClientTransport) Stop() error         { return nil }

// RoundTrip sends req and returns the decoded response, enforcing that
// the response RID matches the request RID.
func (t *HTTPClientTransport) RoundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	req.APIKey = t.apiKey
	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transport: build http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: http round trip: %w", err)
	}
	defer httpResp.Body.Close()

	var resp protocol.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("transport: decode http response: %w", err)
	}

	if resp.ID != req.ID {
		return nil, fmt.Errorf("transport: response id %d does not match request id %d", resp.ID, req.ID)
	}
	return &resp, nil
}

func (t *HTTPClientTransport) Send(req *protocol.Request) error {
	return fmt.Errorf("transport: HTTPClientTransport.Send is not supported, use RoundTrip")
}

func (t *HTTPClientTransport) SendResponse(resp *protocol.Response) error {
	return fmt.Errorf("transport: HTTPClientTransport does not accept server-side responses")
}
