package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcpfabric/internal/mcpclient"
	"mcpfabric/internal/mcpconfig"
	"mcpfabric/internal/protocol"
	"mcpfabric/internal/transport"
)

// loopbackTransport answers every request with a single "pong" text
// item, enough to drive CallTool routing tests without a real backend
// process.
type loopbackTransport struct {
	mu        sync.Mutex
	connected bool
	onResp    transport.ResponseCallback
}

func (l *loopbackTransport) Kind() transport.Kind { return transport.KindTCP }
func (l *loopbackTransport) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}
func (l *loopbackTransport) Start(ctx context.Context) error {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}
func (l *loopbackTransport) Stop() error {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	return nil
}
func (l *loopbackTransport) Send(req *protocol.Request) error {
	go l.onResp(protocol.NewResultResponse(req.ID, []protocol.ContentItem{protocol.TextItem("text/plain", "pong")}))
	return nil
}
func (l *loopbackTransport) SendResponse(resp *protocol.Response) error { return nil }

func connectedConnection(t *testing.T, name string, tools []string, resources []string) *connection {
	cli := mcpclient.New("", time.Second, nil)
	lt := &loopbackTransport{}
	lt.onResp = cli.OnResponse
	cli.Attach(lt)
	require.NoError(t, lt.Start(context.Background()))

	toolSet := make(map[string]struct{}, len(tools))
	for _, name := range tools {
		toolSet[name] = struct{}{}
	}
	return &connection{
		name:             name,
		state:            StateHealthy,
		client:           cli,
		transport:        lt,
		tools:            toolSet,
		resourcePrefixes: resources,
	}
}

func TestSelectForTool_RoutingAndMiss(t *testing.T) {
	a := New(mcpconfig.ToolAccessControl{}, time.Second, nil)
	a.servers = []*connection{
		connectedConnection(t, "s0", []string{"echo", "ping"}, nil),
		connectedConnection(t, "s1", []string{"sum"}, nil),
	}

	idx, ok := a.SelectForTool("sum")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	idx, ok = a.SelectForTool("echo")
	require.True(t, ok)
	require.Equal(t, 0, idx)

	_, ok = a.SelectForTool("unknown")
	require.False(t, ok)
}

// TestAggregatorRouting_Scenario reproduces spec.md §8 scenario 6
// verbatim, including the post-disconnect re-check.
func TestAggregatorRouting_Scenario(t *testing.T) {
	a := New(mcpconfig.ToolAccessControl{}, time.Second, nil)
	s0 := connectedConnection(t, "s0", []string{"echo", "ping"}, nil)
	s1 := connectedConnection(t, "s1", []string{"sum"}, nil)
	a.servers = []*connection{s0, s1}

	idx, ok := a.SelectForTool("sum")
	require.True(t, ok)
	require.Equal(t, 1, idx)
	idx, ok = a.SelectForTool("echo")
	require.True(t, ok)
	require.Equal(t, 0, idx)
	_, ok = a.SelectForTool("unknown")
	require.False(t, ok)

	s0.mu.Lock()
	s0.state = StateDisconnected
	s0.mu.Unlock()
	a.mu.Lock()
	a.invalidateRoutingLocked()
	a.mu.Unlock()

	_, ok = a.SelectForTool("echo")
	require.False(t, ok)
}

func TestSelectForResource_PrefixMatch(t *testing.T) {
	a := New(mcpconfig.ToolAccessControl{}, time.Second, nil)
	a.servers = []*connection{
		connectedConnection(t, "s0", nil, []string{"config://app/"}),
		connectedConnection(t, "s1", nil, []string{"logs://"}),
	}

	idx, ok := a.SelectForResource("config://app/settings")
	require.True(t, ok)
	require.Equal(t, 0, idx)

	idx, ok = a.SelectForResource("logs://today")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, ok = a.SelectForResource("other://x")
	require.False(t, ok)
}

func TestCallTool_RoutesAndInvokes(t *testing.T) {
	a := New(mcpconfig.ToolAccessControl{}, time.Second, nil)
	a.servers = []*connection{connectedConnection(t, "s0", []string{"ping"}, nil)}

	items, err := a.CallTool(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.Equal(t, "pong", items[0].Text)
}

func TestCallTool_DisallowedByAccessControl(t *testing.T) {
	deny := false
	access := mcpconfig.ToolAccessControl{DefaultAllow: &deny}
	a := New(access, time.Second, nil)
	a.servers = []*connection{connectedConnection(t, "s0", []string{"ping"}, nil)}

	_, err := a.CallTool(context.Background(), "ping", nil)
	require.Error(t, err)
}

func TestConnectAll_AllMisconfiguredFails(t *testing.T) {
	a := New(mcpconfig.ToolAccessControl{}, time.Second, nil)
	a.Add("broken", mcpconfig.ServerConfig{}) // neither command nor url

	err := a.ConnectAll(context.Background())
	require.Error(t, err)
}

func TestAdd_DeepCopiesConfig(t *testing.T) {
	a := New(mcpconfig.ToolAccessControl{}, time.Second, nil)
	cfg := mcpconfig.ServerConfig{Args: []string{"a"}, Env: map[string]string{"K": "V"}}
	a.Add("s", cfg)

	cfg.Args[0] = "mutated"
	cfg.Env["K"] = "mutated"

	require.Equal(t, "a", a.servers[0].config.Args[0])
	require.Equal(t, "V", a.servers[0].config.Env["K"])
}

func TestToolAccessControl_AllowedList(t *testing.T) {
	ac := mcpconfig.ToolAccessControl{AllowedTools: []string{"echo"}}
	require.True(t, ac.Allowed("echo"))
	require.False(t, ac.Allowed("sum"))
}

func TestToolAccessControl_DisallowedWins(t *testing.T) {
	ac := mcpconfig.ToolAccessControl{AllowedTools: []string{"echo"}, DisallowedTools: []string{"echo"}}
	require.False(t, ac.Allowed("echo"))
}
