package mcpmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when the manager is used before the first
	// Initialize call.
	ErrNotInitialized = errors.New("mcpmgr: manager not initialized")
	// ErrAlreadyInitialized is returned by Initialize while the manager is
	// running. Use UpdateConfig to change the configuration instead.
	ErrAlreadyInitialized = errors.New("mcpmgr: manager already initialized")
	// ErrShuttingDown rejects connection attempts started during shutdown.
	ErrShuttingDown = errors.New("mcpmgr: manager shutting down")
	// ErrAttemptInFlight is returned when a connection attempt for the same
	// server is already running.
	ErrAttemptInFlight = errors.New("connection attempt in flight")

	ErrServerNotFound     = errors.New("server not found")
	ErrServerNotConnected = errors.New("server not connected")
	ErrToolNotFound       = errors.New("tool not found")
	ErrExecutionTimeout   = errors.New("Tool execution timeout")
)

// ConnectionError records a failed attempt to establish a transport.
type ConnectionError struct {
	Server  string
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpmgr: connect %q (attempt %d): %v", e.Server, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CloseError records a transport that failed to close cleanly. Close errors
// are logged and never block the rest of a disconnect or shutdown.
type CloseError struct {
	Server string
	Err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("mcpmgr: close %q: %v", e.Server, e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

// RemoteToolError is returned by transports when the server reports a tool
// level failure.
type RemoteToolError struct {
	Tool    string
	Message string
}

func (e *RemoteToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %s reported an error", e.Tool)
	}
	return e.Message
}
