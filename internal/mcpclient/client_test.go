package mcpclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpfabric/internal/protocol"
	"mcpfabric/internal/transport"
	"mcpfabric/pkg/mcperr"
)

// fakeAsyncTransport is a loopback stream-style transport: Send
// schedules a reply (or none, to exercise timeout) on a background
// goroutine, exactly the asynchronous shape spec.md §4.2 describes.
type fakeAsyncTransport struct {
	mu        sync.Mutex
	connected bool
	onResp    transport.ResponseCallback
	onErr     transport.ErrorCallback
	sendErr   error

	// reply is invoked for every Send with the sent request; it
	// returns the response to deliver (or nil to simulate a dropped/
	// delayed response) and a delay before delivery.
	reply func(req *protocol.Request) (*protocol.Response, time.Duration)
}

func (f *fakeAsyncTransport) Kind() transport.Kind { return transport.KindTCP }
func (f *fakeAsyncTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeAsyncTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}
func (f *fakeAsyncTransport) Stop() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}
func (f *fakeAsyncTransport) Send(req *protocol.Request) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.reply == nil {
		return nil
	}
	resp, delay := f.reply(req)
	if resp == nil {
		return nil
	}
	go func() {
		time.Sleep(delay)
		f.onResp(resp)
	}()
	return nil
}
func (f *fakeAsyncTransport) SendResponse(resp *protocol.Response) error { return nil }

func newAttachedClient(t *testing.T, reply func(req *protocol.Request) (*protocol.Response, time.Duration)) (*Client, *fakeAsyncTransport) {
	c := New("", 0, nil)
	ft := &fakeAsyncTransport{reply: reply}
	ft.onResp = c.OnResponse
	ft.onErr = c.OnError
	c.Attach(ft)
	require.NoError(t, ft.Start(context.Background()))
	return c, ft
}

func TestSendRequest_HappyPath(t *testing.T) {
	c, _ := newAttachedClient(t, func(req *protocol.Request) (*protocol.Response, time.Duration) {
		return protocol.NewResultResponse(req.ID, "hello"), 0
	})

	result, err := c.SendRequest(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", result)
}

func TestSendRequest_ServerError(t *testing.T) {
	c, _ := newAttachedClient(t, func(req *protocol.Request) (*protocol.Response, time.Duration) {
		return protocol.NewErrorResponse(req.ID, mcperr.ToolNotFound, "tool not found"), 0
	})

	_, err := c.SendRequest(context.Background(), "call_tool", nil)
	require.Error(t, err)
	require.Equal(t, mcperr.ToolNotFound, mcperr.CodeOf(err))
}

func TestSendRequest_Timeout(t *testing.T) {
	c, _ := newAttachedClient(t, func(req *protocol.Request) (*protocol.Response, time.Duration) {
		return protocol.NewResultResponse(req.ID, "late"), 500 * time.Millisecond
	})

	start := time.Now()
	_, err := c.SendRequestTimeout(context.Background(), "sleep", nil, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Equal(t, mcperr.TransportError, mcperr.CodeOf(err))
	require.Contains(t, err.Error(), "timed out")
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond)
}

func TestSendRequest_OutOfOrderResponses(t *testing.T) {
	c, _ := newAttachedClient(t, func(req *protocol.Request) (*protocol.Response, time.Duration) {
		// Reply to odd RIDs fast, even RIDs slower, to exercise
		// out-of-order arrival matching by RID (spec.md §5).
		if req.ID%2 == 1 {
			return protocol.NewResultResponse(req.ID, "fast"), 5 * time.Millisecond
		}
		return protocol.NewResultResponse(req.ID, "slow"), 40 * time.Millisecond
	})

	var wg sync.WaitGroup
	results := make([]interface{}, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.SendRequest(context.Background(), "m", nil)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()
}

func TestSendRequest_TransportErrorBroadcast(t *testing.T) {
	c, ft := newAttachedClient(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.SendRequestTimeout(context.Background(), "m", nil, time.Second)
			errs[i] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	ft.onErr(errors.New("connection reset"))
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		require.Equal(t, mcperr.TransportError, mcperr.CodeOf(err))
	}
}

func TestSendRequest_RejectsNullMethod(t *testing.T) {
	c, _ := newAttachedClient(t, nil)
	_, err := c.SendRequest(context.Background(), "", nil)
	require.Error(t, err)
	require.Equal(t, mcperr.InvalidParams, mcperr.CodeOf(err))
}

func TestSendRequest_RejectsNegativeTimeout(t *testing.T) {
	c, _ := newAttachedClient(t, nil)
	_, err := c.SendRequestTimeout(context.Background(), "m", nil, -time.Second)
	require.Error(t, err)
	require.Equal(t, mcperr.InvalidParams, mcperr.CodeOf(err))
}

// fakeRoundTripper exercises the synchronous transport path
// (spec.md §4.2, "Algorithm (synchronous transports)").
type fakeRoundTripper struct {
	respond func(req *protocol.Request) (*protocol.Response, error)
}

func (f *fakeRoundTripper) Kind() transport.Kind          { return transport.KindHTTP }
func (f *fakeRoundTripper) IsConnected() bool             { return true }
func (f *fakeRoundTripper) Start(ctx context.Context) error { return nil }
func (f *fakeRoundTripper) Stop() error                   { return nil }
func (f *fakeRoundTripper) Send(req *protocol.Request) error { return nil }
func (f *fakeRoundTripper) SendResponse(resp *protocol.Response) error { return nil }
func (f *fakeRoundTripper) RoundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return f.respond(req)
}

func TestSendRequest_SyncTransport(t *testing.T) {
	c := New("", 0, nil)
	rt := &fakeRoundTripper{respond: func(req *protocol.Request) (*protocol.Response, error) {
		return protocol.NewResultResponse(req.ID, "sync-ok"), nil
	}}
	c.Attach(rt)

	result, err := c.SendRequest(context.Background(), "m", nil)
	require.NoError(t, err)
	require.Equal(t, "sync-ok", result)
}

func TestSendRequest_SyncTransportMismatchedID(t *testing.T) {
	c := New("", 0, nil)
	rt := &fakeRoundTripper{respond: func(req *protocol.Request) (*protocol.Response, error) {
		return protocol.NewResultResponse(req.ID+1, "wrong"), nil
	}}
	c.Attach(rt)

	_, err := c.SendRequest(context.Background(), "m", nil)
	require.Error(t, err)
	require.Equal(t, mcperr.InternalError, mcperr.CodeOf(err))
	require.Contains(t, err.Error(), "doesn't match")
}

func TestCallTool_DecodesContentItems(t *testing.T) {
	c, _ := newAttachedClient(t, func(req *protocol.Request) (*protocol.Response, time.Duration) {
		return protocol.NewResultResponse(req.ID, []protocol.ContentItem{protocol.TextItem("text/plain", "hello")}), 0
	})

	items, err := c.CallTool(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "hello", items[0].Text)
}
