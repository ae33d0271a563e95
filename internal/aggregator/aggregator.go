// Package aggregator implements the multi-server aggregator of
// spec.md §4.6: one mcpclient per configured backend, lazily-populated
// routing maps from tool/resource name to backend index, bounded
// health-check/reconnect retries, and subprocess lifecycle management
// for command-based backends.
//
// Grounded on giantswarm-muster's internal/aggregator (ServerRegistry/
// ServerInfo), read for the *shape* of a routing map plus per-server
// advertisement set — no muster code is imported, since muster
// delegates all protocol mechanics to mark3labs/mcp-go and this
// package's mcpclient/mcpserver do not exist there to reuse. Written
// in the teacher's own concurrency idiom (a single mutex over the
// connection list and routing maps, released before any RPC is
// issued, matching spec.md §5's lock-ordering rule) and reusing
// golang.org/x/time/rate — already a teacher dependency for HTTP rate
// limiting (hyperserve.go/middleware.go) — to pace reconnect attempts
// instead of a bare time.Sleep loop.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mcpfabric/internal/mcpclient"
	"mcpfabric/internal/mcpconfig"
	"mcpfabric/internal/protocol"
	"mcpfabric/internal/transport"
	"mcpfabric/pkg/mcperr"
)

// State is a server connection's position in the state machine of
// spec.md §4.6: NEW -> CONNECTING -> CONNECTED -> (HEALTHY <->
// UNHEALTHY) -> DISCONNECTED -> (CONNECTING)*, terminal FAILED after
// exhausted reconnect attempts.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateHealthy
	StateUnhealthy
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateHealthy:
		return "HEALTHY"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "FAILED"
	}
}

// settlePeriod is the bounded wait after a subprocess backend spawns,
// before its liveness is verified (spec.md §4.6, ">= 500ms").
const settlePeriod = 500 * time.Millisecond

// connection is one backend's connection record (spec.md §3, "Server
// connection"). Its own mutex protects fields the aggregator's routing
// lookups read without holding the aggregator lock, per spec.md §5's
// "each server's own client core has its own locking".
type connection struct {
	name   string
	config mcpconfig.ServerConfig

	mu               sync.Mutex
	state            State
	transport        transport.Transport
	client           *mcpclient.Client
	cmd              *exec.Cmd
	exited           chan struct{}
	tools            map[string]struct{}
	resourcePrefixes []string
	failures         int
	lastHealthCheck  time.Time
}

func (c *connection) connectedLocked() bool {
	return c.state == StateConnected || c.state == StateHealthy || c.state == StateUnhealthy
}

// Aggregator is the multi-server façade: one client per backend, a
// tool-name and a resource-URI-prefix routing map, and bounded
// health/reconnect logic. A single mutex protects the connection list
// and the routing maps; it is always released before any RPC is
// issued to a backend (spec.md §5's lock-ordering rule).
type Aggregator struct {
	mu            sync.Mutex
	servers       []*connection
	byName        map[string]int
	toolIndex     map[string]int
	resourceIndex map[string]int

	access  mcpconfig.ToolAccessControl
	timeout time.Duration
	logger  *slog.Logger
}

// New builds an empty Aggregator. requestTimeout <= 0 lets each
// mcpclient fall back to its own default.
func New(access mcpconfig.ToolAccessControl, requestTimeout time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		byName:        make(map[string]int),
		toolIndex:     make(map[string]int),
		resourceIndex: make(map[string]int),
		access:        access,
		timeout:       requestTimeout,
		logger:        logger,
	}
}

// Add appends a server-connection record from a deep copy of cfg. No
// network activity occurs until ConnectAll.
func (a *Aggregator) Add(name string, cfg mcpconfig.ServerConfig) {
	cfgCopy := cfg
	cfgCopy.Args = append([]string(nil), cfg.Args...)
	if cfg.Env != nil {
		cfgCopy.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			cfgCopy.Env[k] = v
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	sc := &connection{name: name, config: cfgCopy, state: StateNew, tools: make(map[string]struct{})}
	a.servers = append(a.servers, sc)
	a.byName[name] = len(a.servers) - 1
}

// LoadConfig appends every server in cfg.MCPServers, restricted to
// profile's server names if a non-empty profile is given.
func (a *Aggregator) LoadConfig(cfg *mcpconfig.Config, profile *mcpconfig.Profile) {
	names := make(map[string]bool)
	if profile != nil {
		for _, n := range profile.Servers {
			names[n] = true
		}
	}
	for name, sc := range cfg.MCPServers {
		if profile != nil && !names[name] {
			continue
		}
		a.Add(name, sc)
	}
}

// Len reports the number of configured server connections.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.servers)
}

// Name returns the configured name of the server at index i.
func (a *Aggregator) Name(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.servers[i].name
}

// State returns the current state of the server at index i.
func (a *Aggregator) State(i int) State {
	sc := a.serverAt(i)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

func (a *Aggregator) serverAt(idx int) *connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.servers[idx]
}

func (a *Aggregator) indexOf(target *connection) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, sc := range a.servers {
		if sc == target {
			return i
		}
	}
	return -1
}

// ConnectAll connects every registered, disconnected server in order.
// Succeeds (returns nil) if at least one backend connected; fails
// with connection-failed only if every backend failed (spec.md §4.6).
// Per-backend failures are logged, never returned, so callers should
// also inspect State/Name per spec.md §9's open question.
func (a *Aggregator) ConnectAll(ctx context.Context) error {
	a.mu.Lock()
	servers := append([]*connection(nil), a.servers...)
	a.mu.Unlock()

	connected := 0
	for _, sc := range servers {
		sc.mu.Lock()
		already := sc.connectedLocked()
		sc.mu.Unlock()
		if already {
			connected++
			continue
		}
		if err := a.connectOne(ctx, sc); err != nil {
			a.logger.Warn("aggregator: backend failed to connect", "server", sc.name, "error", err)
			continue
		}
		connected++
	}

	a.mu.Lock()
	a.invalidateRoutingLocked()
	a.mu.Unlock()

	if connected == 0 {
		return mcperr.New(mcperr.ConnectionFailed, "no backend servers connected")
	}
	return nil
}

// invalidateRoutingLocked resets both routing maps, forcing the next
// select_for_tool/select_for_resource call to rescan advertisement
// sets. Callers must hold a.mu.
func (a *Aggregator) invalidateRoutingLocked() {
	a.toolIndex = make(map[string]int)
	a.resourceIndex = make(map[string]int)
}

func (a *Aggregator) connectOne(ctx context.Context, sc *connection) error {
	sc.mu.Lock()
	sc.state = StateConnecting
	sc.mu.Unlock()

	cli := mcpclient.New(sc.config.APIKey, a.timeout, a.logger)

	var t transport.Transport
	var cmd *exec.Cmd
	var exited chan struct{}
	var err error

	switch {
	case sc.config.Command != "":
		t, cmd, exited, err = spawnSubprocess(sc, cli, a.logger)
	case sc.config.URL != "":
		t, err = dialURL(ctx, sc, cli, a.logger)
	default:
		err = mcperr.Newf(mcperr.ConnectionFailed, "server %q has neither command nor url configured", sc.name)
	}
	if err != nil {
		sc.mu.Lock()
		sc.state = StateFailed
		sc.mu.Unlock()
		return err
	}

	cli.Attach(t)
	if err := t.Start(ctx); err != nil {
		sc.mu.Lock()
		sc.state = StateFailed
		sc.mu.Unlock()
		return fmt.Errorf("aggregator: start transport for %q: %w", sc.name, err)
	}

	if cmd != nil {
		select {
		case <-exited:
			_ = t.Stop()
			sc.mu.Lock()
			sc.state = StateFailed
			sc.mu.Unlock()
			return mcperr.Newf(mcperr.ConnectionFailed, "server %q subprocess exited during the settle period", sc.name)
		case <-time.After(settlePeriod):
		}
	}

	tools, err := cli.ListTools(ctx)
	if err != nil {
		_ = t.Stop()
		sc.mu.Lock()
		sc.state = StateFailed
		sc.mu.Unlock()
		return fmt.Errorf("aggregator: list_tools on %q: %w", sc.name, err)
	}
	resources, err := cli.ListResources(ctx)
	if err != nil {
		_ = t.Stop()
		sc.mu.Lock()
		sc.state = StateFailed
		sc.mu.Unlock()
		return fmt.Errorf("aggregator: list_resources on %q: %w", sc.name, err)
	}

	toolSet := make(map[string]struct{}, len(tools))
	for _, ti := range tools {
		toolSet[ti.Name] = struct{}{}
	}
	prefixes := make([]string, 0, len(resources))
	for _, ri := range resources {
		prefixes = append(prefixes, ri.URI)
	}

	sc.mu.Lock()
	sc.transport = t
	sc.client = cli
	sc.cmd = cmd
	sc.exited = exited
	sc.tools = toolSet
	sc.resourcePrefixes = prefixes
	sc.state = StateHealthy
	sc.failures = 0
	sc.lastHealthCheck = time.Now()
	sc.mu.Unlock()
	return nil
}

func spawnSubprocess(sc *connection, cli *mcpclient.Client, logger *slog.Logger) (transport.Transport, *exec.Cmd, chan struct{}, error) {
	cmd := exec.Command(sc.config.Command, sc.config.Args...)
	if len(sc.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range sc.config.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("aggregator: stdin pipe for %q: %w", sc.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("aggregator: stdout pipe for %q: %w", sc.name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, nil, mcperr.Wrap(mcperr.ConnectionFailed, fmt.Sprintf("start subprocess for %q", sc.name), err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	t := transport.NewStdioTransport(stdout, stdin, logger, nil, cli.OnResponse, cli.OnError)
	return t, cmd, exited, nil
}

func dialURL(ctx context.Context, sc *connection, cli *mcpclient.Client, logger *slog.Logger) (transport.Transport, error) {
	u, err := url.Parse(sc.config.URL)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.ConnectionFailed, fmt.Sprintf("parse url for %q", sc.name), err)
	}

	switch u.Scheme {
	case "tcp":
		conn, err := net.Dial("tcp", u.Host)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.ConnectionFailed, fmt.Sprintf("dial tcp %q", sc.config.URL), err)
		}
		return transport.NewTCPTransport(conn, logger, nil, cli.OnResponse, cli.OnError), nil
	case "ws", "wss":
		t, err := transport.DialWebSocket(ctx, sc.config.URL, logger, cli.OnResponse, cli.OnError)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.ConnectionFailed, fmt.Sprintf("dial websocket %q", sc.config.URL), err)
		}
		return t, nil
	case "http":
		return transport.NewHTTPClientTransport(sc.config.URL, nil, sc.config.APIKey), nil
	case "https":
		// spec.md §9 open question: HTTPS TLS certificate validation
		// is explicitly not re-implemented from the teacher's partial
		// OpenSSL glue; refuse rather than silently skip validation.
		return nil, mcperr.Newf(mcperr.ConnectionFailed, "https transport for %q refused: TLS certificate validation is not implemented", sc.name)
	default:
		return nil, mcperr.Newf(mcperr.ConnectionFailed, "unsupported url scheme %q for server %q", u.Scheme, sc.name)
	}
}

// DisconnectAll tears down every connection in reverse creation order,
// best-effort: errors are logged, never returned (spec.md §4.6).
func (a *Aggregator) DisconnectAll() {
	a.mu.Lock()
	servers := append([]*connection(nil), a.servers...)
	a.mu.Unlock()

	for i := len(servers) - 1; i >= 0; i-- {
		sc := servers[i]
		sc.mu.Lock()
		t := sc.transport
		cmd := sc.cmd
		sc.state = StateDisconnected
		sc.transport = nil
		sc.client = nil
		sc.tools = make(map[string]struct{})
		sc.resourcePrefixes = nil
		sc.mu.Unlock()

		if t != nil {
			if err := t.Stop(); err != nil {
				a.logger.Warn("aggregator: error stopping transport", "server", sc.name, "error", err)
			}
		}
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	a.mu.Lock()
	a.invalidateRoutingLocked()
	a.mu.Unlock()
}

// SelectForTool resolves name to a connected server index, consulting
// the tool routing map first and falling back to a declaration-order
// scan of every connected server's advertisement set on a miss
// (spec.md §4.6).
func (a *Aggregator) SelectForTool(name string) (int, bool) {
	a.mu.Lock()
	if idx, ok := a.toolIndex[name]; ok {
		a.mu.Unlock()
		return idx, true
	}
	servers := append([]*connection(nil), a.servers...)
	a.mu.Unlock()

	for i, sc := range servers {
		sc.mu.Lock()
		_, has := sc.tools[name]
		connected := sc.connectedLocked()
		sc.mu.Unlock()
		if has && connected {
			a.mu.Lock()
			a.toolIndex[name] = i
			a.mu.Unlock()
			return i, true
		}
	}
	return 0, false
}

// SelectForResource resolves uri to a connected server index by
// longest-match-not-required, first-declared-wins prefix scan (spec.md
// §4.6 explicitly permits first-declared-wins over longest-prefix).
func (a *Aggregator) SelectForResource(uri string) (int, bool) {
	a.mu.Lock()
	if idx, ok := a.resourceIndex[uri]; ok {
		a.mu.Unlock()
		return idx, true
	}
	servers := append([]*connection(nil), a.servers...)
	a.mu.Unlock()

	for i, sc := range servers {
		sc.mu.Lock()
		prefixes := sc.resourcePrefixes
		connected := sc.connectedLocked()
		sc.mu.Unlock()
		if !connected {
			continue
		}
		for _, p := range prefixes {
			if uri == p || strings.HasPrefix(uri, p) {
				a.mu.Lock()
				a.resourceIndex[uri] = i
				a.mu.Unlock()
				return i, true
			}
		}
	}
	return 0, false
}

// CallTool routes name to whichever connected server advertises it,
// subject to the configured tool access control, and invokes it.
func (a *Aggregator) CallTool(ctx context.Context, name string, args map[string]interface{}) ([]protocol.ContentItem, error) {
	if !a.access.Allowed(name) {
		return nil, mcperr.Newf(mcperr.ToolNotFound, "tool %q is not allowed", name)
	}
	idx, ok := a.SelectForTool(name)
	if !ok {
		return nil, mcperr.Newf(mcperr.ToolNotFound, "no connected server advertises tool %q", name)
	}
	sc := a.serverAt(idx)
	sc.mu.Lock()
	cli := sc.client
	sc.mu.Unlock()
	if cli == nil {
		return nil, mcperr.Newf(mcperr.TransportError, "server %q is not connected", sc.name)
	}
	return cli.CallTool(ctx, name, args)
}

// ReadResource routes uri to whichever connected server advertises a
// matching resource/prefix and invokes the read.
func (a *Aggregator) ReadResource(ctx context.Context, uri string) ([]protocol.ContentItem, error) {
	idx, ok := a.SelectForResource(uri)
	if !ok {
		return nil, mcperr.Newf(mcperr.ResourceNotFound, "no connected server advertises resource %q", uri)
	}
	sc := a.serverAt(idx)
	sc.mu.Lock()
	cli := sc.client
	sc.mu.Unlock()
	if cli == nil {
		return nil, mcperr.Newf(mcperr.TransportError, "server %q is not connected", sc.name)
	}
	return cli.ReadResource(ctx, uri)
}

// CheckHealth pings every connected server. A failure increments that
// server's failure counter, marks it unhealthy, and attempts
// reconnection up to maxAttempts times spaced by retryInterval.
// Returns nil iff every server ends up healthy; otherwise
// connection-failed with the unhealthy/total count (spec.md §4.6).
func (a *Aggregator) CheckHealth(ctx context.Context, maxAttempts int, retryInterval time.Duration) error {
	a.mu.Lock()
	servers := append([]*connection(nil), a.servers...)
	a.mu.Unlock()

	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(retryInterval), 1)

	total, unhealthy := 0, 0
	for _, sc := range servers {
		sc.mu.Lock()
		connected := sc.connectedLocked()
		cli := sc.client
		sc.mu.Unlock()
		if !connected {
			continue
		}
		total++

		if err := cli.Ping(ctx); err == nil {
			sc.mu.Lock()
			sc.state = StateHealthy
			sc.lastHealthCheck = time.Now()
			sc.mu.Unlock()
			continue
		}

		sc.mu.Lock()
		sc.failures++
		sc.state = StateUnhealthy
		sc.mu.Unlock()

		if a.recoverWithRetries(ctx, sc, maxAttempts, limiter) {
			continue
		}
		sc.mu.Lock()
		sc.state = StateFailed
		sc.mu.Unlock()
		unhealthy++
	}

	if unhealthy > 0 {
		return mcperr.Newf(mcperr.ConnectionFailed, "%d/%d servers unhealthy after health check", unhealthy, total)
	}
	return nil
}

func (a *Aggregator) recoverWithRetries(ctx context.Context, sc *connection, maxAttempts int, limiter *rate.Limiter) bool {
	idx := a.indexOf(sc)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		if err := a.Reconnect(ctx, idx, 1, 0); err == nil {
			return true
		}
	}
	return false
}

// Reconnect tears down the connection at index and re-runs the
// per-record connect sequence up to maxAttempts times, spaced by
// interval (spec.md §4.6).
func (a *Aggregator) Reconnect(ctx context.Context, index int, maxAttempts int, interval time.Duration) error {
	sc := a.serverAt(index)

	sc.mu.Lock()
	t := sc.transport
	cmd := sc.cmd
	sc.transport = nil
	sc.client = nil
	sc.mu.Unlock()

	if t != nil {
		_ = t.Stop()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 && interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := a.connectOne(ctx, sc); err != nil {
			lastErr = err
			continue
		}
		a.mu.Lock()
		a.invalidateRoutingLocked()
		a.mu.Unlock()
		return nil
	}

	sc.mu.Lock()
	sc.state = StateFailed
	sc.mu.Unlock()
	if lastErr == nil {
		lastErr = mcperr.Newf(mcperr.ConnectionFailed, "server %q: no reconnect attempts made", sc.name)
	}
	return lastErr
}
