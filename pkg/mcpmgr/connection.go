package mcpmgr

import (
	"maps"
	"slices"
	"time"
)

// ConnectionState is the position of a server in the connection state
// machine.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// serverConnection is the runtime record of one configured server. All
// fields are guarded by Manager.mu.
type serverConnection struct {
	desc      ServerDescriptor
	transport Transport
	tools     map[string]Tool

	connected   bool
	state       ConnectionState
	lastErr     error
	connectedAt time.Time
	attempts    int

	// gen changes whenever the transport handle is replaced or dropped so
	// that results of superseded attempts and monitors can be recognized.
	gen uint64
}

func newServerConnection(desc ServerDescriptor) *serverConnection {
	return &serverConnection{
		desc:  desc,
		tools: map[string]Tool{},
		state: StateDisconnected,
	}
}

// detach drops the transport handle and returns it for closing outside the
// lock. The connection is left disconnected.
func (c *serverConnection) detach() Transport {
	t := c.transport
	c.transport = nil
	c.connected = false
	c.tools = map[string]Tool{}
	c.gen++
	return t
}

// ConnectionSnapshot is a point-in-time copy of a server's runtime state.
type ConnectionSnapshot struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Transport   TransportKind   `json:"transport"`
	Enabled     bool            `json:"enabled"`
	Priority    int             `json:"priority"`
	State       ConnectionState `json:"state"`
	Connected   bool            `json:"connected"`
	LastError   string          `json:"lastError,omitempty"`
	ConnectedAt *time.Time      `json:"connectedAt,omitempty"`
	ToolCount   int             `json:"toolCount"`
	Tools       []string        `json:"tools"`
	Attempts    int             `json:"attempts"`
	// HasTransport is true while a handle is held. Combined with
	// Connected=false it marks a stale, half torn down connection.
	HasTransport bool `json:"hasTransport"`
	RetryPending bool `json:"retryPending"`
}

func (c *serverConnection) snapshot(retryPending bool) ConnectionSnapshot {
	s := ConnectionSnapshot{
		Name:         c.desc.Name,
		Description:  c.desc.Description,
		Transport:    TransportOf(c.desc.Transport),
		Enabled:      c.desc.Enabled,
		Priority:     c.desc.Priority,
		State:        c.state,
		Connected:    c.connected,
		ToolCount:    len(c.tools),
		Tools:        slices.Sorted(maps.Keys(c.tools)),
		Attempts:     c.attempts,
		HasTransport: c.transport != nil,
		RetryPending: retryPending,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if !c.connectedAt.IsZero() {
		at := c.connectedAt
		s.ConnectedAt = &at
	}
	return s
}
