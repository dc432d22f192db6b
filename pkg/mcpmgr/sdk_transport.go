package mcpmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// SDKDialer is the default Dialer. It speaks MCP through the
// modelcontextprotocol/go-sdk client, launching process servers over stdio
// and reaching stream servers over Streamable HTTP with an SSE fallback.
type SDKDialer struct {
	// Implementation identifies this client during initialization. When nil
	// the server name is advertised with version 1.0.0.
	Implementation *mcp.Implementation
	// ClientOptions are passed to every mcp.Client the dialer creates.
	ClientOptions mcp.ClientOptions
	// HTTPClient is the base client for stream transports.
	HTTPClient *http.Client
	// MaxRetries configures the Streamable transport's own reconnects.
	MaxRetries int
	// RPCLogger receives JSON-RPC traffic. LogJSONRPC prints traffic to
	// stdout when no RPCLogger is set.
	RPCLogger  RPCLogger
	LogJSONRPC bool
}

// Dial connects to the server described by desc and completes the MCP
// initialization handshake.
func (d *SDKDialer) Dial(ctx context.Context, desc ServerDescriptor) (Transport, error) {
	switch cfg := desc.Transport.(type) {
	case *ProcessTransport:
		transport, err := buildProcessTransport(desc.Name, cfg)
		if err != nil {
			return nil, err
		}
		return d.connect(ctx, desc.Name, transport)
	case *StreamTransport:
		return d.dialStream(ctx, desc.Name, cfg)
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported transport for %q", desc.Name)
	}
}

func (d *SDKDialer) dialStream(ctx context.Context, server string, cfg *StreamTransport) (Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcpmgr: url missing for %q", server)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	httpClient := decorateHTTPClient(d.HTTPClient, headersFromMap(cfg.Headers))
	streamable := &mcp.StreamableClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: httpClient,
		MaxRetries: d.MaxRetries,
	}
	sse := &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}

	var streamErr error
	if !shouldPreferSSE(cfg) {
		t, err := d.connect(ctx, server, streamable)
		if err == nil {
			return t, nil
		}
		streamErr = err
	}
	t, err := d.connect(ctx, server, sse)
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	return t, nil
}

func (d *SDKDialer) connect(ctx context.Context, server string, transport mcp.Transport) (*sdkTransport, error) {
	opts := d.ClientOptions
	client := mcp.NewClient(d.implementation(server), &opts)
	if logger := d.resolveLogger(); logger != nil {
		transport = &loggingTransport{serverID: server, delegate: transport, logger: logger}
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &sdkTransport{server: server, session: session}, nil
}

func (d *SDKDialer) implementation(server string) *mcp.Implementation {
	if d.Implementation != nil {
		impl := *d.Implementation
		return &impl
	}
	return &mcp.Implementation{Name: server, Version: "1.0.0"}
}

func (d *SDKDialer) resolveLogger() RPCLogger {
	if d.RPCLogger != nil {
		return d.RPCLogger
	}
	if d.LogJSONRPC {
		return func(event RPCLogEvent) {
			fmt.Printf("[MCP:%s] %s %s\n", event.ServerID, strings.ToUpper(string(event.Direction)), string(event.Message))
		}
	}
	return nil
}

func buildProcessTransport(server string, cfg *ProcessTransport) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", server)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.Dir = cfg.Cwd
	return &mcp.CommandTransport{Command: cmd}, nil
}

func shouldPreferSSE(cfg *StreamTransport) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.URL), "/sse")
}

// sdkTransport adapts an mcp.ClientSession to Transport.
type sdkTransport struct {
	server  string
	session *mcp.ClientSession

	closeOnce sync.Once
	closeErr  error
}

func (t *sdkTransport) ListTools(ctx context.Context) ([]Tool, error) {
	tools := []Tool{}
	params := &mcp.ListToolsParams{}
	for {
		res, err := t.session.ListTools(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err) {
				return []Tool{}, nil
			}
			return nil, err
		}
		for _, tool := range res.Tools {
			if tool == nil {
				continue
			}
			tools = append(tools, Tool{
				Name:        tool.Name,
				NativeName:  tool.Name,
				Server:      t.server,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
				Meta:        tool.Meta,
			})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (t *sdkTransport) CallTool(ctx context.Context, name string, params any) (any, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, &RemoteToolError{Tool: name, Message: contentText(res.Content)}
	}
	return res, nil
}

func (t *sdkTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.session.Close()
	})
	return t.closeErr
}

func (t *sdkTransport) Wait() error {
	return t.session.Wait()
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func isMethodUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, phrase := range []string{"method not found", "not implemented", "unsupported", "does not support", "unimplemented"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}

func headersFromMap(values map[string]string) http.Header {
	if len(values) == 0 {
		return nil
	}
	h := make(http.Header, len(values))
	for k, v := range values {
		h.Set(k, v)
	}
	return h
}

func decorateHTTPClient(base *http.Client, headers http.Header) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneHeader(headers),
	}
	return &clone
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(d.headers) > 0 {
		req = req.Clone(req.Context())
		for k, values := range d.headers {
			req.Header.Del(k)
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
