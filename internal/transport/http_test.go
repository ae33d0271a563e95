package transport

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mcpfabric/internal/protocol"
)

func TestHTTPServerTransport_ReceiveRequest(t *testing.T) {
	req := &protocol.Request{ID: 1, Method: "ping"}
	body, err := req.Marshal()
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	tr := NewHTTPServerTransport(rec, httpReq)
	decoded, err := tr.ReceiveRequest()
	require.NoError(t, err)
	require.Equal(t, protocol.RID(1), decoded.ID)

	resp := protocol.NewResultResponse(1, "pong")
	require.NoError(t, tr.SendResponse(resp))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHTTPServerTransport_RejectsWrongMethod(t *testing.T) {
	httpReq := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	tr := NewHTTPServerTransport(rec, httpReq)
	_, err := tr.ReceiveRequest()
	require.Error(t, err)
}

func TestHTTPClientTransport_RoundTrip(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := NewHTTPServerTransport(w, r)
		req, err := tr.ReceiveRequest()
		require.NoError(t, err)
		require.NoError(t, tr.SendResponse(protocol.NewResultResponse(req.ID, "pong")))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewHTTPClientTransport(server.URL, server.Client(), "")
	resp, err := client.RoundTrip(context.Background(), &protocol.Request{ID: 9, Method: "ping"})
	require.NoError(t, err)
	require.Equal(t, protocol.RID(9), resp.ID)
	require.Equal(t, "pong", resp.Result)
}

func TestHTTPClientTransport_RejectsMismatchedID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := NewHTTPServerTransport(w, r)
		req, err := tr.ReceiveRequest()
		require.NoError(t, err)
		// Deliberately reply with the wrong id.
		require.NoError(t, tr.SendResponse(protocol.NewResultResponse(req.ID+1, "pong")))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	client := NewHTTPClientTransport(server.URL, server.Client(), "")
	_, err := client.RoundTrip(context.Background(), &protocol.Request{ID: 3, Method: "ping"})
	require.Error(t, err)
}
