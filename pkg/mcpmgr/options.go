package mcpmgr

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultBaseRetryDelay = time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
	DefaultSettleDelay    = 500 * time.Millisecond
)

// ManagerOptions configures a Manager instance. The zero value is usable.
type ManagerOptions struct {
	// Dialer builds transports. Defaults to an SDKDialer.
	Dialer Dialer
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Clock schedules retries and arms call timeouts. Defaults to the real
	// clock; tests inject a fake one.
	Clock clockwork.Clock
	// Metrics records Prometheus metrics when non-nil.
	Metrics *Metrics
	// Namespace names catalog entries. Defaults to ServerPrefixNamespace.
	Namespace Namespace
	// BaseRetryDelay and MaxRetryDelay shape the reconnect backoff
	// min(BaseRetryDelay*2^n, MaxRetryDelay).
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	// SettleDelay separates disconnecting a changed server from
	// reconnecting it during UpdateConfig.
	SettleDelay time.Duration
}

func (o *ManagerOptions) withDefaults() ManagerOptions {
	if o == nil {
		o = &ManagerOptions{}
	}
	opts := *o
	if opts.Dialer == nil {
		opts.Dialer = &SDKDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Namespace == nil {
		opts.Namespace = ServerPrefixNamespace{}
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return opts
}
