package mcpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

type stubTransport struct{}

func (stubTransport) ListTools(context.Context) ([]mcpmgr.Tool, error) {
	return []mcpmgr.Tool{{Name: "search", NativeName: "search", Description: "Search the web"}}, nil
}

func (stubTransport) CallTool(_ context.Context, name string, params any) (any, error) {
	return map[string]any{"tool": name, "params": params}, nil
}

func (stubTransport) Close() error { return nil }

var errDialRefused = errors.New("connection refused")

func stubDialer() mcpmgr.Dialer {
	return mcpmgr.DialerFunc(func(_ context.Context, desc mcpmgr.ServerDescriptor) (mcpmgr.Transport, error) {
		if desc.Name == "down" {
			return nil, errDialRefused
		}
		return stubTransport{}, nil
	})
}

func newTestServer(t *testing.T, servers ...string) (*mcpmgr.Manager, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	mgr := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		Dialer:  stubDialer(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: mcpmgr.NewMetrics(reg),
	})
	if servers != nil {
		cfg := mcpmgr.DefaultGlobalConfig()
		cfg.RetryAttempts = 1
		for _, name := range servers {
			cfg.Servers = append(cfg.Servers, mcpmgr.NewServerDescriptor(name, &mcpmgr.ProcessTransport{Command: name}))
		}
		require.NoError(t, mgr.Initialize(context.Background(), cfg))
		t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	}

	api, err := NewServer(mgr, &Options{Gatherer: reg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return mgr, srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestNewServerRequiresManager(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestStatusAndTools(t *testing.T) {
	_, srv := newTestServer(t, "web", "down")

	var status mcpmgr.Status
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/status", &status))
	assert.Equal(t, 2, status.TotalServers)
	assert.Equal(t, 1, status.ConnectedServers)
	assert.Equal(t, 1, status.TotalTools)

	var tools struct {
		Tools []mcpmgr.CatalogEntry `json:"tools"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/tools", &tools))
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "web_search", tools.Tools[0].Name)
	assert.Equal(t, "web", tools.Tools[0].Server)

	var serverTools struct {
		Server string                 `json:"server"`
		Tools  map[string]mcpmgr.Tool `json:"tools"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/servers/web/tools", &serverTools))
	assert.Contains(t, serverTools.Tools, "search")

	var downTools struct {
		Server string                 `json:"server"`
		Tools  map[string]mcpmgr.Tool `json:"tools"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/servers/down/tools", &downTools))
	assert.Equal(t, "down", downTools.Server)
	assert.Empty(t, downTools.Tools)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/servers/missing/tools", nil))
}

func TestHealthStatusCodes(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		_, srv := newTestServer(t, "web")
		var report mcpmgr.HealthReport
		assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &report))
		assert.True(t, report.Healthy)
	})

	t.Run("degraded", func(t *testing.T) {
		_, srv := newTestServer(t, "web", "down")
		var report mcpmgr.HealthReport
		assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/health", &report))
		assert.False(t, report.Healthy)
		assert.NotEmpty(t, report.Issues)
	})

	t.Run("not initialized", func(t *testing.T) {
		_, srv := newTestServer(t)
		assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/health", nil))
	})
}

func TestCallTool(t *testing.T) {
	_, srv := newTestServer(t, "web")

	var res mcpmgr.ToolResult
	code := postJSON(t, srv.URL+"/tools/call", `{"serverId":"web","toolName":"web_search","parameters":{"q":"go"}}`, &res)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.CallID)
	result, ok := res.Result.(map[string]any)
	require.True(t, ok, "result: %#v", res.Result)
	assert.Equal(t, "search", result["tool"])

	res = mcpmgr.ToolResult{}
	code = postJSON(t, srv.URL+"/tools/call", `{"serverId":"web","toolName":"missing"}`, &res)
	require.Equal(t, http.StatusOK, code, "failed results are still 200")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "tool not found")
}

func TestCallToolRejectsBadRequests(t *testing.T) {
	_, srv := newTestServer(t, "web")

	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/tools/call", `{not json`, nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, srv.URL+"/tools/call", `{"serverId":"web"}`, nil))
}

func TestCallToolBeforeInitialize(t *testing.T) {
	_, srv := newTestServer(t)

	var body map[string]string
	code := postJSON(t, srv.URL+"/tools/call", `{"serverId":"web","toolName":"search"}`, &body)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["error"], "not initialized")
}

func TestReconnect(t *testing.T) {
	_, srv := newTestServer(t, "web", "down")

	var body map[string]any
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/servers/web/reconnect", "", &body))
	assert.Equal(t, true, body["connected"])
	assert.EqualValues(t, 1, body["toolCount"])

	assert.Equal(t, http.StatusBadGateway, postJSON(t, srv.URL+"/servers/down/reconnect", "", nil))
	assert.Equal(t, http.StatusNotFound, postJSON(t, srv.URL+"/servers/missing/reconnect", "", nil))
}

func TestReconnectWhileAttemptInFlight(t *testing.T) {
	release := make(chan struct{})
	dialing := make(chan struct{}, 1)
	mgr := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		Dialer: mcpmgr.DialerFunc(func(context.Context, mcpmgr.ServerDescriptor) (mcpmgr.Transport, error) {
			select {
			case dialing <- struct{}{}:
			default:
			}
			<-release
			return stubTransport{}, nil
		}),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	api, err := NewServer(mgr, &Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	cfg := mcpmgr.DefaultGlobalConfig()
	cfg.Servers = []mcpmgr.ServerDescriptor{mcpmgr.NewServerDescriptor("web", &mcpmgr.ProcessTransport{Command: "web"})}
	initDone := make(chan error, 1)
	go func() { initDone <- mgr.Initialize(context.Background(), cfg) }()
	<-dialing

	assert.Equal(t, http.StatusConflict, postJSON(t, srv.URL+"/servers/web/reconnect", "", nil))

	close(release)
	require.NoError(t, <-initDone)
	var body map[string]any
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/servers/web/reconnect", "", &body))
	assert.Equal(t, true, body["connected"])
}

func TestReconnectBeforeInitialize(t *testing.T) {
	_, srv := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, postJSON(t, srv.URL+"/servers/web/reconnect", "", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, "web")
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/tools/call", `{"serverId":"web","toolName":"search"}`, nil))

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mcpmgr_tool_calls_total{server="web",status="success"} 1`)
	assert.Contains(t, string(body), "mcpmgr_servers_connected 1")
}

func TestCORSHeaders(t *testing.T) {
	_, srv := newTestServer(t, "web")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://chat.example.com")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	mgr := mcpmgr.NewManager(&mcpmgr.ManagerOptions{Dialer: stubDialer()})
	api, err := NewServer(mgr, &Options{Addr: "127.0.0.1:0", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.ListenAndServe(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
