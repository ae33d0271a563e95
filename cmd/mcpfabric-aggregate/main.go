// Command mcpfabric-aggregate loads an mcpServers config file, connects
// to every configured backend (or just those in a named profile),
// logs each backend's name and connection state (the individual tool
// and resource names are not listed), and serves the aggregated view
// to a client over stdio.
//
// Grounded on cmd/server/main.go's flag parsing plus hyperserve.go's
// rate-limited background loop shape (adapted here to periodic
// check_health calls instead of per-request throttling).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcpfabric/internal/aggregator"
	"mcpfabric/internal/mcpconfig"
	"mcpfabric/internal/protocol"
	"mcpfabric/internal/transport"
	"mcpfabric/pkg/mcperr"
)

func main() {
	var (
		configPath    = flag.String("config", "mcpservers.json", "Path to the mcpServers configuration file")
		profileName   = flag.String("profile", "", "Profile name to connect (defaults to the config's active profile, or all servers)")
		healthEvery   = flag.Duration("health-interval", 30*time.Second, "How often to run check_health in the background (0 disables it)")
		healthRetries = flag.Int("health-retries", 3, "Reconnect attempts per unhealthy server during a health check")
		verbose       = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := mcpconfig.Load(*configPath)
	if err != nil {
		logger.Error("mcpfabric-aggregate: failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	agg := aggregator.New(cfg.ToolAccessControl, cfg.ClientConfig.RequestTimeout(), logger)
	loadProfile(agg, cfg, *profileName, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agg.ConnectAll(ctx); err != nil {
		logger.Error("mcpfabric-aggregate: failed to connect any backend", "error", err)
		os.Exit(1)
	}
	defer agg.DisconnectAll()

	logRoutingTable(agg, logger)

	if *healthEvery > 0 {
		go runHealthLoop(ctx, agg, *healthEvery, *healthRetries, logger)
	}

	if err := serveAggregatedStdio(ctx, agg, logger); err != nil {
		logger.Error("mcpfabric-aggregate: exited with error", "error", err)
		os.Exit(1)
	}
}

func loadProfile(agg *aggregator.Aggregator, cfg *mcpconfig.Config, profileName string, logger *slog.Logger) {
	if profileName != "" {
		p, ok := cfg.Profiles[profileName]
		if !ok {
			logger.Error("mcpfabric-aggregate: unknown profile", "profile", profileName)
			os.Exit(2)
		}
		agg.LoadConfig(cfg, &p)
		return
	}
	if name, p, ok := cfg.ActiveProfile(); ok {
		logger.Info("mcpfabric-aggregate: using active profile", "profile", name)
		agg.LoadConfig(cfg, &p)
		return
	}
	agg.LoadConfig(cfg, nil)
}

func logRoutingTable(agg *aggregator.Aggregator, logger *slog.Logger) {
	for i := 0; i < agg.Len(); i++ {
		logger.Info("mcpfabric-aggregate: backend connected", "server", agg.Name(i), "state", agg.State(i).String())
	}
}

func runHealthLoop(ctx context.Context, agg *aggregator.Aggregator, interval time.Duration, retries int, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := agg.CheckHealth(ctx, retries, interval/time.Duration(retries+1)); err != nil {
				logger.Warn("mcpfabric-aggregate: health check found unhealthy backends", "error", err)
			}
		}
	}
}

// serveAggregatedStdio exposes the aggregator's combined tool/resource
// surface to a single MCP client over stdio, dispatching call_tool and
// read_resource requests by routing through the aggregator instead of
// a local mcpserver.Server registry.
func serveAggregatedStdio(ctx context.Context, agg *aggregator.Aggregator, logger *slog.Logger) error {
	var t transport.Transport
	onReq := func(req *protocol.Request) {
		resp := dispatchAggregated(ctx, agg, req)
		if resp == nil {
			return
		}
		if err := t.SendResponse(resp); err != nil {
			logger.Warn("mcpfabric-aggregate: failed to send response", "error", err)
		}
	}
	onErr := func(err error) {
		logger.Warn("mcpfabric-aggregate: stdio transport error", "error", err)
	}
	st := transport.NewStdioTransport(os.Stdin, os.Stdout, logger, onReq, nil, onErr)
	t = st

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("mcpfabric-aggregate: start stdio transport: %w", err)
	}
	logger.Info("mcpfabric-aggregate: serving aggregated view over stdio")
	<-ctx.Done()
	return st.Stop()
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func dispatchAggregated(ctx context.Context, agg *aggregator.Aggregator, req *protocol.Request) *protocol.Response {
	if req.IsNotification() {
		return nil
	}

	switch req.Method {
	case "call_tool":
		var params toolCallParams
		if err := remarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, mcperr.InvalidParams, "invalid call_tool params")
		}
		items, err := agg.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return protocol.NewErrorResponse(req.ID, mcperr.CodeOf(err), err.Error())
		}
		return protocol.NewResultResponse(req.ID, items)
	case "read_resource":
		var params resourceReadParams
		if err := remarshal(req.Params, &params); err != nil {
			return protocol.NewErrorResponse(req.ID, mcperr.InvalidParams, "invalid read_resource params")
		}
		items, err := agg.ReadResource(ctx, params.URI)
		if err != nil {
			return protocol.NewErrorResponse(req.ID, mcperr.CodeOf(err), err.Error())
		}
		return protocol.NewResultResponse(req.ID, items)
	default:
		return protocol.NewErrorResponse(req.ID, mcperr.MethodNotFound, "Method not found")
	}
}

// remarshal decodes an opaque request-params value into dst via a
// marshal/unmarshal round trip, the same idiom mcpserver.decodeParams
// and mcp.go use for untyped JSON-RPC params.
func remarshal(params interface{}, dst interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
