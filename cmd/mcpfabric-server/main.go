// Command mcpfabric-server runs a single MCP server over stdio, TCP or
// WebSocket, exposing the built-in filesystem tools rooted at a
// configurable directory.
//
// Grounded on cmd/server/main.go's flag-based option wiring, adapted
// from hyperserve's HTTP-framework options to mcpserver's dispatcher
// construction, and on mcp_stdio.go/mcp.go for the transport-selection
// shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mcpfabric/internal/mcpserver"
	"mcpfabric/internal/protocol"
	"mcpfabric/internal/rescache"
	"mcpfabric/internal/transport"
)

func main() {
	var (
		name      = flag.String("name", "mcpfabric-server", "Server name advertised to clients")
		version   = flag.String("version", "1.0.0", "Server version advertised to clients")
		apiKey    = flag.String("api-key", "", "Require this API key on every request (empty disables the check)")
		root      = flag.String("root", ".", "Root directory exposed by the read_file/list_directory tools")
		transKind = flag.String("transport", "stdio", "Transport to serve on: stdio, tcp or websocket")
		tcpAddr   = flag.String("tcp-addr", ":7777", "Listen address when -transport=tcp")
		wsAddr    = flag.String("ws-addr", ":7778", "Listen address when -transport=websocket")
		cacheCap  = flag.Int("cache-capacity", 256, "Resource cache capacity (0 disables caching)")
		cacheTTL  = flag.Duration("cache-ttl", 0, "Default resource cache TTL (0 = cache default, see rescache)")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var cache *rescache.Cache
	if *cacheCap > 0 {
		cache = rescache.New(*cacheCap, *cacheTTL)
	}

	srv := mcpserver.New(mcpserver.Info{Name: *name, Version: *version}, *apiKey, cache, logger)
	if err := srv.RegisterFilesystemTools(*root); err != nil {
		logger.Error("mcpfabric-server: failed to register filesystem tools", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch *transKind {
	case "stdio":
		err = serveStdio(ctx, srv, logger)
	case "tcp":
		err = serveTCP(ctx, srv, *tcpAddr, logger)
	case "websocket":
		err = serveWebSocket(ctx, srv, *wsAddr, logger)
	default:
		fmt.Fprintf(os.Stderr, "mcpfabric-server: unknown -transport %q (want stdio, tcp or websocket)\n", *transKind)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("mcpfabric-server: exited with error", "error", err)
		os.Exit(1)
	}
}

// replyCallback builds a RequestCallback that dispatches through srv
// and writes the result back over t. t is populated by the caller
// right after constructing the transport the callback was passed to;
// the closure only runs once Start's receive loop delivers a frame,
// well after that assignment.
func replyCallback(ctx context.Context, srv *mcpserver.Server, t *transport.Transport, logger *slog.Logger) transport.RequestCallback {
	return func(req *protocol.Request) {
		resp := srv.Dispatch(ctx, req)
		if resp == nil {
			return
		}
		if err := (*t).SendResponse(resp); err != nil {
			logger.Warn("mcpfabric-server: failed to send response", "error", err)
		}
	}
}

func serveStdio(ctx context.Context, srv *mcpserver.Server, logger *slog.Logger) error {
	var t transport.Transport
	onErr := func(err error) {
		logger.Warn("mcpfabric-server: stdio transport error", "error", err)
	}
	st := transport.NewStdioTransport(os.Stdin, os.Stdout, logger, replyCallback(ctx, srv, &t, logger), nil, onErr)
	t = st

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("mcpfabric-server: start stdio transport: %w", err)
	}
	logger.Info("mcpfabric-server: serving over stdio")
	<-ctx.Done()
	return st.Stop()
}

func serveTCP(ctx context.Context, srv *mcpserver.Server, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mcpfabric-server: listen %s: %w", addr, err)
	}
	logger.Info("mcpfabric-server: serving over tcp", "addr", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("mcpfabric-server: accept: %w", err)
			}
		}
		go func() {
			var t transport.Transport
			onErr := func(err error) {
				logger.Debug("mcpfabric-server: tcp connection closed", "error", err)
			}
			tt := transport.NewTCPTransport(conn, logger, replyCallback(ctx, srv, &t, logger), nil, onErr)
			t = tt
			if err := tt.Start(ctx); err != nil {
				logger.Warn("mcpfabric-server: failed to start tcp connection", "error", err)
				_ = conn.Close()
			}
		}()
	}
}

func serveWebSocket(ctx context.Context, srv *mcpserver.Server, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		var t transport.Transport
		onErr := func(err error) {
			logger.Debug("mcpfabric-server: websocket connection closed", "error", err)
		}
		wt, err := transport.NewWebSocketServerTransport(w, r, logger, replyCallback(ctx, srv, &t, logger), onErr)
		if err != nil {
			logger.Warn("mcpfabric-server: websocket upgrade failed", "error", err)
			return
		}
		t = wt
		if err := wt.Start(ctx); err != nil {
			logger.Warn("mcpfabric-server: failed to start websocket connection", "error", err)
		}
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	logger.Info("mcpfabric-server: serving over websocket", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("mcpfabric-server: websocket listen: %w", err)
	}
	return nil
}
