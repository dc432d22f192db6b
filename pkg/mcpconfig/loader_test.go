package mcpconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "toolhub.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfgPath := writeConfig(t, `
servers:
  - name: web
    transport:
      kind: process
      command: npx
      args: ["-y", "@modelcontextprotocol/server-everything"]
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.Enabled {
		t.Fatal("enabled should default to true")
	}
	if cfg.DefaultTimeout != mcpmgr.DefaultTimeout {
		t.Fatalf("defaultTimeout: got %v", cfg.DefaultTimeout)
	}
	if cfg.MaxConcurrentConnections != mcpmgr.DefaultMaxConcurrentConnections {
		t.Fatalf("maxConcurrentConnections: got %d", cfg.MaxConcurrentConnections)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("servers: got %d, want 1", len(cfg.Servers))
	}
	web := cfg.Servers[0]
	if !web.Enabled || web.Priority != mcpmgr.DefaultPriority {
		t.Fatalf("server defaults not applied: %+v", web)
	}
	proc, ok := mcpmgr.AsProcess(web.Transport)
	if !ok {
		t.Fatalf("transport: got %T", web.Transport)
	}
	if proc.Command != "npx" || len(proc.Args) != 2 {
		t.Fatalf("process transport: %+v", proc)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
enabled: true
defaultTimeoutMs: 2500
maxConcurrentConnections: 0
retryAttempts: 5
servers:
  - name: docs
    description: Documentation search
    enabled: false
    priority: 0
    timeoutMs: 1500
    allowedTools: ["search*"]
    disallowedTools: ["search_admin"]
    transport:
      kind: stream
      url: https://docs.example.com/sse
      headers:
        X-Team: tools
      timeoutMs: 4000
      preferSse: true
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultTimeout != 2500*time.Millisecond {
		t.Fatalf("defaultTimeout: got %v", cfg.DefaultTimeout)
	}
	if cfg.MaxConcurrentConnections != 0 {
		t.Fatalf("explicit zero should be kept, got %d", cfg.MaxConcurrentConnections)
	}
	if cfg.RetryAttempts != 5 {
		t.Fatalf("retryAttempts: got %d", cfg.RetryAttempts)
	}

	docs := cfg.Servers[0]
	if docs.Enabled || docs.Priority != 0 || docs.Timeout != 1500*time.Millisecond {
		t.Fatalf("server fields: %+v", docs)
	}
	if docs.Description != "Documentation search" {
		t.Fatalf("description: got %q", docs.Description)
	}
	if len(docs.AllowedTools) != 1 || len(docs.DisallowedTools) != 1 {
		t.Fatalf("tool filters: %+v / %+v", docs.AllowedTools, docs.DisallowedTools)
	}
	stream, ok := mcpmgr.AsStream(docs.Transport)
	if !ok {
		t.Fatalf("transport: got %T", docs.Transport)
	}
	if stream.URL != "https://docs.example.com/sse" || stream.Timeout != 4*time.Second {
		t.Fatalf("stream transport: %+v", stream)
	}
	if stream.PreferSSE == nil || !*stream.PreferSSE {
		t.Fatal("preferSse should be set")
	}
	if stream.Headers["X-Team"] != "tools" {
		t.Fatalf("headers: %+v", stream.Headers)
	}
}

func TestLoadResolvesEnvVars(t *testing.T) {
	t.Setenv("TOOLHUB_TEST_TOKEN", "secret123")
	t.Setenv("TOOLHUB_TEST_HOST", "tools.internal")

	cfgPath := writeConfig(t, `
servers:
  - name: remote
    transport:
      kind: stream
      url: https://${TOOLHUB_TEST_HOST}/mcp
      headers:
        Authorization: os.environ/TOOLHUB_TEST_TOKEN
  - name: local
    transport:
      kind: process
      command: server
      env:
        API_KEY: os.environ/TOOLHUB_TEST_TOKEN
        MISSING: os.environ/TOOLHUB_NONEXISTENT_VAR
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	stream, _ := mcpmgr.AsStream(cfg.Servers[0].Transport)
	if stream.URL != "https://tools.internal/mcp" {
		t.Fatalf("url: got %q", stream.URL)
	}
	if stream.Headers["Authorization"] != "secret123" {
		t.Fatalf("header: got %q", stream.Headers["Authorization"])
	}
	proc, _ := mcpmgr.AsProcess(cfg.Servers[1].Transport)
	if proc.Env["API_KEY"] != "secret123" {
		t.Fatalf("env: got %q", proc.Env["API_KEY"])
	}
	if v, ok := proc.Env["MISSING"]; !ok || v != "" {
		t.Fatalf("unset variable should resolve to empty, got %q (present=%v)", v, ok)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}
	if !cfg.Enabled || len(cfg.Servers) != 0 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("servers: []\nretries: 3\n"))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
	if !strings.Contains(err.Error(), "retries") {
		t.Fatalf("error should name the field: %v", err)
	}
}

func TestParseReportsBadTransportKind(t *testing.T) {
	_, err := Parse([]byte(`
servers:
  - name: a
    transport:
      kind: websocket
  - name: b
    transport: {}
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *mcpmgr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %T, want *mcpmgr.ValidationError", err)
	}
	if verr.Server != "a" || verr.Field != "transport.kind" {
		t.Fatalf("got %+v", verr)
	}
	if !strings.Contains(err.Error(), `"b"`) {
		t.Fatalf("both servers should be reported: %v", err)
	}
}

func TestParseRunsValidation(t *testing.T) {
	_, err := Parse([]byte(`
servers:
  - name: dup
    transport: {kind: process, command: a}
  - name: dup
    transport: {kind: stream, url: "ftp://example.com"}
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicated") || !strings.Contains(msg, "scheme") {
		t.Fatalf("unexpected error: %v", msg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want os.ErrNotExist", err)
	}
}
