package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

// Gateway exposes a Streamable MCP server that fronts every tool in the
// manager's merged catalog under a single HTTP endpoint.
type Gateway struct {
	manager *mcpmgr.Manager
	opts    Options

	tools *toolIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	unsubscribe func()
}

// NewGateway builds a Gateway, registers the current catalog and subscribes
// to manager events so later connects and disconnects are mirrored.
func NewGateway(mgr *mcpmgr.Manager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		manager: mgr,
		opts:    options,
		tools:   newToolIndex(),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.mux = g.mountHandler()

	g.unsubscribe = mgr.Subscribe(g.handleEvent)
	g.Sync()
	return g, nil
}

// Options returns the effective options after defaults were applied.
func (g *Gateway) Options() Options {
	return g.opts
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// ServeMux exposes the mux the Streamable endpoint is mounted on so callers
// can add their own routes.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server exposes the underlying MCP server, mainly for in-process sessions.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Close stops mirroring manager events.
func (g *Gateway) Close() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Sync reconciles the registered tools with the manager's catalog.
func (g *Gateway) Sync() {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	removed, added := g.tools.Update(g.manager.AllTools())
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Debug("gateway tools synced", "added", len(added), "removed", len(removed))
	}
}

func (g *Gateway) handleEvent(ev mcpmgr.Event) {
	switch ev.Kind {
	case mcpmgr.EventServerConnected, mcpmgr.EventServerDisconnected, mcpmgr.EventServerError, mcpmgr.EventInitialized:
		g.Sync()
	case mcpmgr.EventShutdown:
		g.serverMu.Lock()
		if names := g.tools.Reset(); len(names) > 0 {
			g.server.RemoveTools(names...)
		}
		g.serverMu.Unlock()
	}
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		res, err := g.manager.ExecuteTool(ctx, mcpmgr.ToolCall{
			ServerID:   target.ServerID,
			ToolName:   target.LocalName,
			Parameters: args,
		})
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return errorResult(res.Error), nil
		}
		return toolResult(res.Result), nil
	}
}

// toolResult passes through results that already are MCP content and wraps
// anything else as JSON text.
func toolResult(value any) *mcp.CallToolResult {
	switch v := value.(type) {
	case *mcp.CallToolResult:
		return v
	case []mcp.Content:
		return &mcp.CallToolResult{Content: v}
	case string:
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: v}}}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}
	res := &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}
	if obj, ok := value.(map[string]any); ok {
		res.StructuredContent = obj
	}
	return res
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

func (g *Gateway) mountHandler() *http.ServeMux {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}
	return mux
}
