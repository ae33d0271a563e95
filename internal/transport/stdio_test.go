package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpfabric/internal/protocol"
)

func TestStdioTransport_SendReceiveRoundTrip(t *testing.T) {
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	t.Cleanup(func() {
		clientR.Close()
		serverW.Close()
		serverR.Close()
		clientW.Close()
	})

	received := make(chan *protocol.Request, 1)
	server := NewStdioTransport(serverR, serverW, nil, func(req *protocol.Request) {
		received <- req
	}, nil, nil)
	client := NewStdioTransport(clientR, clientW, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	require.NoError(t, client.Start(ctx))

	req := &protocol.Request{ID: 7, Method: "ping"}
	require.NoError(t, client.Send(req))

	select {
	case got := <-received:
		require.Equal(t, protocol.RID(7), got.ID)
		require.Equal(t, "ping", got.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request to arrive")
	}
}

func TestStdioTransport_IsConnectedLifecycle(t *testing.T) {
	r, w := io.Pipe()
	tr := NewStdioTransport(r, io.Discard, nil, nil, nil, nil)
	require.False(t, tr.IsConnected())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	require.True(t, tr.IsConnected())

	// Closing the writer unblocks the receive loop's pending read with
	// io.EOF, the same way a closed stdin shuts down a stdio server.
	require.NoError(t, w.Close())
	require.NoError(t, tr.Stop())
	require.False(t, tr.IsConnected())
}
