// Package mcpgateway re-exposes the merged tool catalog of an mcpmgr.Manager
// over a single Streamable MCP server. Tools appear under their namespaced
// catalog names and follow the manager's connect and disconnect events, so
// downstream clients see one server whose tool list tracks upstream health.
package mcpgateway
