package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mcpfabric/pkg/mcperr"
)

func TestRequest_IsNotification(t *testing.T) {
	req := &Request{Method: "ping"}
	require.True(t, req.IsNotification())

	req.ID = 1
	require.False(t, req.IsNotification())
}

func TestRequest_RoundTrip(t *testing.T) {
	for rid := RID(1); rid < 40; rid++ {
		req := &Request{ID: rid, Method: "call_tool", Params: map[string]interface{}{"name": "echo"}}
		data, err := req.Marshal()
		require.NoError(t, err)

		decoded, err := DecodeRequest(data)
		require.NoError(t, err)
		require.Equal(t, req.ID, decoded.ID)
		require.Equal(t, req.Method, decoded.Method)
	}
}

func TestDecodeRequest_ParseError(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	require.Error(t, err)
	require.Equal(t, mcperr.ParseError, mcperr.CodeOf(err))
}

func TestResponse_ErrEnvelope(t *testing.T) {
	resp := NewErrorResponse(2, mcperr.MethodNotFound, "Method not found")
	data, err := resp.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	require.Equal(t, RID(2), decoded.ID)
	require.NotNil(t, decoded.Error)
	require.Equal(t, int(mcperr.MethodNotFound), decoded.Error.Code)

	asErr := decoded.Err()
	require.Error(t, asErr)
	require.Equal(t, mcperr.MethodNotFound, mcperr.CodeOf(asErr))
}

func TestResponse_ResultEnvelope(t *testing.T) {
	resp := NewResultResponse(1, []ContentItem{TextItem("text/plain", "hello")})
	require.Nil(t, resp.Err())
}
