// Package mcpapi exposes a small HTTP/JSON surface over an mcpmgr.Manager:
// aggregate status, health, the merged tool catalog, manual reconnects, tool
// calls and Prometheus metrics.
package mcpapi
