package mcpmgr

import (
	"context"
)

// Tool describes one callable operation exposed by a server.
type Tool struct {
	// Name is the server-local name with any "{server}_" prefix removed.
	Name string `json:"name"`
	// NativeName is the name exactly as the server emitted it and is the
	// name sent back on invocation.
	NativeName  string         `json:"nativeName"`
	Server      string         `json:"server"`
	Description string         `json:"description,omitempty"`
	InputSchema any            `json:"inputSchema,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Transport is an established channel to one tool server.
type Transport interface {
	// ListTools returns every tool the server currently exposes. Name and
	// NativeName may both carry the server's own spelling; the manager
	// normalizes them.
	ListTools(ctx context.Context) ([]Tool, error)
	// CallTool invokes a tool by its native name.
	CallTool(ctx context.Context, name string, params any) (any, error)
	// Close releases the channel. It must be safe to call more than once.
	Close() error
}

// SessionWaiter is implemented by transports that can report when the
// remote side goes away on its own. Wait blocks until the session ends.
type SessionWaiter interface {
	Wait() error
}

// Dialer builds a Transport from a descriptor's transport variant. The
// variant is inspected here and nowhere else.
type Dialer interface {
	Dial(ctx context.Context, desc ServerDescriptor) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, desc ServerDescriptor) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, desc ServerDescriptor) (Transport, error) {
	return f(ctx, desc)
}
