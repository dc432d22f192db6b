// Package mcpmgr supervises connections from a single Go process to any
// number of Model Context Protocol (MCP) tool servers. It establishes and
// recovers connections, merges every connected server's tools into one
// namespaced catalog, and dispatches tool calls under a deadline.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, apply a GlobalConfig with Initialize, reconcile later
//     changes with UpdateConfig, and release everything with Shutdown.
//   - GlobalConfig and ServerDescriptor declare the servers to manage. A
//     descriptor's Transport is either a ProcessTransport (a child process
//     speaking over stdio) or a StreamTransport (Streamable HTTP or SSE).
//   - ExecuteTool runs one ToolCall and always reports runtime failures in
//     the returned ToolResult.
//   - HealthCheck and GetStatus describe the current connection state.
//
// Tools appear in the catalog as "{server}_{tool}". A server that already
// prefixes its tool names with its own name is normalized so the prefix is
// not applied twice.
//
// A server that fails to connect is retried with exponential backoff until
// GlobalConfig.RetryAttempts attempts have failed; Reconnect starts over.
// Retry timing runs on an injectable clockwork.Clock.
//
// Lifecycle events are delivered through Subscribe or the typed helpers
// OnInitialized, OnServerConnected, OnServerError, OnServerDisconnected and
// OnShutdown.
//
// When branching on a descriptor's transport, use TransportOf or the
// IsProcess/IsStream and AsProcess/AsStream helpers.
package mcpmgr
