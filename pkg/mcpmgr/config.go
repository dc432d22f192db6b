package mcpmgr

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultTimeout                  = 10 * time.Second
	DefaultMaxConcurrentConnections = 5
	DefaultRetryAttempts            = 3
	DefaultPriority                 = 50
)

// GlobalConfig holds process-wide manager settings and the ordered list of
// servers to manage.
type GlobalConfig struct {
	Enabled                  bool
	DefaultTimeout           time.Duration
	MaxConcurrentConnections int
	RetryAttempts            int
	Servers                  []ServerDescriptor
}

// DefaultGlobalConfig returns a GlobalConfig populated with default values and
// no servers.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		Enabled:                  true,
		DefaultTimeout:           DefaultTimeout,
		MaxConcurrentConnections: DefaultMaxConcurrentConnections,
		RetryAttempts:            DefaultRetryAttempts,
	}
}

// ServerDescriptor is the static configuration of one external tool server.
// Descriptors are replaced wholesale on config updates and never mutated in
// place by the manager.
type ServerDescriptor struct {
	Name        string
	Description string
	Enabled     bool
	Priority    int
	// Timeout overrides GlobalConfig.DefaultTimeout for connects and tool
	// calls against this server when positive.
	Timeout   time.Duration
	Transport TransportConfig

	// AllowedTools and DisallowedTools are doublestar patterns matched
	// against the server's local tool names. An empty allow list admits
	// every tool.
	AllowedTools    []string
	DisallowedTools []string
}

// NewServerDescriptor returns a descriptor carrying the default enabled flag
// and priority.
func NewServerDescriptor(name string, transport TransportConfig) ServerDescriptor {
	return ServerDescriptor{
		Name:      name,
		Enabled:   true,
		Priority:  DefaultPriority,
		Transport: transport,
	}
}

// TransportKind identifies the transport family used by a descriptor.
type TransportKind string

const (
	TransportProcess TransportKind = "process"
	TransportStream  TransportKind = "stream"
)

// TransportConfig is implemented by ProcessTransport and StreamTransport only.
type TransportConfig interface {
	kind() TransportKind
	clone() TransportConfig
}

// ProcessTransport launches the server as a child process speaking over
// stdio.
type ProcessTransport struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

func (*ProcessTransport) kind() TransportKind { return TransportProcess }

func (p *ProcessTransport) clone() TransportConfig {
	c := *p
	c.Args = slices.Clone(p.Args)
	c.Env = maps.Clone(p.Env)
	return &c
}

// StreamTransport reaches the server over a network stream (Streamable HTTP
// or SSE).
type StreamTransport struct {
	URL     string
	Headers map[string]string
	// Timeout bounds connection establishment when positive.
	Timeout time.Duration
	// PreferSSE forces the SSE transport. When nil, SSE is preferred for URLs
	// ending in "/sse".
	PreferSSE *bool
}

func (*StreamTransport) kind() TransportKind { return TransportStream }

func (s *StreamTransport) clone() TransportConfig {
	c := *s
	c.Headers = maps.Clone(s.Headers)
	if s.PreferSSE != nil {
		v := *s.PreferSSE
		c.PreferSSE = &v
	}
	return &c
}

// Clone returns a deep copy of the descriptor.
func (d ServerDescriptor) Clone() ServerDescriptor {
	c := d
	if d.Transport != nil {
		c.Transport = d.Transport.clone()
	}
	c.AllowedTools = slices.Clone(d.AllowedTools)
	c.DisallowedTools = slices.Clone(d.DisallowedTools)
	return c
}

// Equal reports whether two descriptors configure the same server identically.
func (d ServerDescriptor) Equal(other ServerDescriptor) bool {
	return reflect.DeepEqual(d, other)
}

// timeoutOr returns the descriptor timeout or fallback when unset.
func (d ServerDescriptor) timeoutOr(fallback time.Duration) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return fallback
}

// Clone returns a deep copy of the configuration.
func (c GlobalConfig) Clone() GlobalConfig {
	out := c
	out.Servers = make([]ServerDescriptor, len(c.Servers))
	for i, d := range c.Servers {
		out.Servers[i] = d.Clone()
	}
	return out
}

func (c GlobalConfig) withDefaults() GlobalConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	return c
}

// ValidationError describes one malformed field of a configuration.
type ValidationError struct {
	Server string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("mcpmgr: invalid config: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("mcpmgr: invalid config for %q: %s %s", e.Server, e.Field, e.Reason)
}

// Validate checks the configuration before any connection attempt. All
// problems are reported together as joined *ValidationError values.
func (c GlobalConfig) Validate() error {
	var errs []error
	add := func(server, field, reason string) {
		errs = append(errs, &ValidationError{Server: server, Field: field, Reason: reason})
	}
	if c.DefaultTimeout < 0 {
		add("", "defaultTimeout", "must not be negative")
	}
	if c.MaxConcurrentConnections < 0 {
		add("", "maxConcurrentConnections", "must not be negative")
	}
	if c.RetryAttempts < 0 {
		add("", "retryAttempts", "must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i, d := range c.Servers {
		if d.Name == "" {
			add(fmt.Sprintf("#%d", i), "name", "is required")
		} else if _, dup := seen[d.Name]; dup {
			add(d.Name, "name", "is duplicated")
		} else {
			seen[d.Name] = struct{}{}
		}
		errs = append(errs, d.validate()...)
	}
	return errors.Join(errs...)
}

func (d ServerDescriptor) validate() []error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &ValidationError{Server: d.Name, Field: field, Reason: reason})
	}
	if d.Timeout < 0 {
		add("timeout", "must not be negative")
	}
	for _, p := range slices.Concat(d.AllowedTools, d.DisallowedTools) {
		if !doublestar.ValidatePattern(p) {
			add("tools", fmt.Sprintf("pattern %q is invalid", p))
		}
	}
	switch t := d.Transport.(type) {
	case nil:
		add("transport", "is required")
	case *ProcessTransport:
		if t.Command == "" {
			add("transport.command", "is required")
		}
	case *StreamTransport:
		if t.Timeout < 0 {
			add("transport.timeout", "must not be negative")
		}
		u, err := url.Parse(t.URL)
		switch {
		case t.URL == "":
			add("transport.url", "is required")
		case err != nil:
			add("transport.url", err.Error())
		case u.Scheme != "http" && u.Scheme != "https":
			add("transport.url", fmt.Sprintf("scheme %q is not supported", u.Scheme))
		}
	default:
		add("transport", fmt.Sprintf("unsupported type %T", t))
	}
	return errs
}
