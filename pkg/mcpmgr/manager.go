package mcpmgr

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopped
)

// Status is the aggregate view returned by GetStatus.
type Status struct {
	Enabled          bool                 `json:"enabled"`
	TotalServers     int                  `json:"totalServers"`
	ConnectedServers int                  `json:"connectedServers"`
	TotalTools       int                  `json:"totalTools"`
	Servers          []ConnectionSnapshot `json:"servers"`
}

// Manager supervises connections to every configured tool server, keeps the
// merged tool catalog current and dispatches tool calls.
type Manager struct {
	opts    ManagerOptions
	logger  *slog.Logger
	clock   clockwork.Clock
	dialer  Dialer
	metrics *Metrics
	ns      Namespace
	catalog *Catalog
	events  *eventBus

	mu           sync.RWMutex
	lifecycle    lifecycle
	shuttingDown bool
	cfg          GlobalConfig
	conns        map[string]*serverConnection
	// retries counts consecutive failed attempts per server name.
	retries  map[string]int
	pending  map[string]pendingAttempt
	timerSeq uint64
	// attempts maps a server name to the connection whose attempt is in
	// flight. It outlives purges so a replaced connection cannot dial while
	// the old attempt is still running. deferred marks names that asked for
	// an attempt meanwhile; they are retried when the old attempt ends.
	attempts map[string]*serverConnection
	deferred map[string]struct{}
	// sem bounds concurrent connection attempts. Attempts capture the value
	// current when they start, so replacing it never strands a release.
	sem *semaphore.Weighted
}

// NewManager constructs a Manager. Callers can provide nil options to fall
// back to defaults. No connection is made until Initialize.
func NewManager(opts *ManagerOptions) *Manager {
	options := opts.withDefaults()
	return &Manager{
		opts:    options,
		logger:  options.Logger,
		clock:   options.Clock,
		dialer:  options.Dialer,
		metrics: options.Metrics,
		ns:      options.Namespace,
		catalog: newCatalog(options.Namespace),
		events:  &eventBus{logger: options.Logger},
		conns:   make(map[string]*serverConnection),
		retries: make(map[string]int),
		pending: make(map[string]pendingAttempt),

		attempts: make(map[string]*serverConnection),
		deferred: make(map[string]struct{}),
	}
}

// Initialize applies cfg and attempts a connection to every enabled server
// concurrently, in priority order. It returns once every attempt has
// settled; connection failures are recorded per server and never fail
// Initialize. Only an invalid configuration or a manager that is already
// running produces an error.
func (m *Manager) Initialize(ctx context.Context, cfg GlobalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone().withDefaults()

	m.mu.Lock()
	if m.lifecycle == lifecycleRunning {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.lifecycle = lifecycleRunning
	m.shuttingDown = false
	m.cfg = cfg
	m.conns = make(map[string]*serverConnection)
	m.retries = make(map[string]int)
	m.pending = make(map[string]pendingAttempt)
	m.sem = newSemaphore(cfg.MaxConcurrentConnections)
	targets := m.enabledServersLocked()
	m.mu.Unlock()

	m.logger.Info("initializing tool servers", "servers", len(cfg.Servers), "enabled", len(targets))
	m.connectAll(ctx, targets)

	status := m.GetStatus()
	m.logger.Info("tool servers initialized",
		"connected", status.ConnectedServers,
		"total", status.TotalServers,
		"tools", status.TotalTools,
	)
	m.events.emit(Event{Kind: EventInitialized, Status: &status})
	return nil
}

func (m *Manager) connectAll(ctx context.Context, targets []ServerDescriptor) {
	var g errgroup.Group
	for _, desc := range targets {
		g.Go(func() error {
			_ = m.connectToServer(ctx, desc)
			return nil
		})
	}
	_ = g.Wait()
}

// connectToServer runs one connection attempt for desc. While another
// attempt for the same server is in flight it returns ErrAttemptInFlight;
// if that attempt belongs to a purged connection, a fresh attempt runs once
// it ends. On failure the retry policy schedules the next attempt.
func (m *Manager) connectToServer(ctx context.Context, desc ServerDescriptor) error {
	name := desc.Name

	m.mu.Lock()
	if m.shuttingDown || m.lifecycle != lifecycleRunning {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	conn, ok := m.conns[name]
	if !ok {
		conn = newServerConnection(desc)
		m.conns[name] = conn
	}
	if owner, busy := m.attempts[name]; busy {
		if owner != conn {
			conn.desc = desc
			conn.state = StateConnecting
			m.deferred[name] = struct{}{}
		}
		m.mu.Unlock()
		return fmt.Errorf("mcpmgr: %w: %s", ErrAttemptInFlight, name)
	}
	m.cancelPendingLocked(name)
	conn.desc = desc
	m.attempts[name] = conn
	conn.state = StateConnecting
	conn.attempts = m.retries[name] + 1
	previous := conn.detach()
	m.catalog.remove(name)
	sem := m.sem
	timeout := desc.timeoutOr(m.cfg.DefaultTimeout)
	m.mu.Unlock()

	// The prior handle is always closed before a new one is opened.
	m.closeTransport(name, previous)

	transport, tools, err := m.establish(ctx, sem, desc, timeout)
	m.metrics.connectionAttempt(name, err)

	m.mu.Lock()
	rerun := m.endAttemptLocked(name, conn)
	if m.shuttingDown || m.conns[name] != conn {
		// Superseded by a disconnect, config change or shutdown.
		m.mu.Unlock()
		m.closeTransport(name, transport)
		if rerun {
			go m.runDeferred(name)
		}
		return ErrShuttingDown
	}

	if err != nil {
		failures := m.retries[name] + 1
		m.retries[name] = failures
		cerr := &ConnectionError{Server: name, Attempt: failures, Err: err}
		conn.lastErr = cerr
		conn.connected = false
		conn.state = StateFailed
		conn.attempts = failures
		retrying := failures < m.cfg.RetryAttempts
		if retrying {
			m.scheduleLocked(name, backoffDelay(m.opts.BaseRetryDelay, m.opts.MaxRetryDelay, failures))
		}
		m.mu.Unlock()

		m.logger.Warn("tool server connection failed", "server", name, "attempt", failures, "retrying", retrying, "error", err)
		m.events.emit(Event{Kind: EventServerError, Server: name, Err: cerr})
		return cerr
	}

	local := m.normalizeTools(desc, tools)
	conn.transport = transport
	conn.tools = local
	conn.connected = true
	conn.state = StateConnected
	conn.lastErr = nil
	conn.connectedAt = m.clock.Now()
	conn.gen++
	gen := conn.gen
	delete(m.retries, name)
	m.catalog.register(name, local)
	connected, total := m.countsLocked()
	m.mu.Unlock()

	m.metrics.setGauges(connected, total)
	if waiter, ok := transport.(SessionWaiter); ok {
		go m.monitor(name, conn, gen, waiter)
	}
	m.logger.Info("tool server connected", "server", name, "tools", len(local))
	m.events.emit(Event{Kind: EventServerConnected, Server: name, ToolCount: len(local)})
	return nil
}

// endAttemptLocked releases name's in-flight marker held by conn and reports
// whether another attempt was requested while it ran.
func (m *Manager) endAttemptLocked(name string, conn *serverConnection) bool {
	if m.attempts[name] == conn {
		delete(m.attempts, name)
	}
	_, deferred := m.deferred[name]
	delete(m.deferred, name)
	return deferred
}

// runDeferred starts the attempt that was held back by a superseded one,
// using the current descriptor.
func (m *Manager) runDeferred(name string) {
	m.mu.RLock()
	desc, ok := m.enabledDescriptorLocked(name)
	running := m.lifecycle == lifecycleRunning && !m.shuttingDown
	m.mu.RUnlock()
	if ok && running {
		_ = m.connectToServer(context.Background(), desc)
	}
}

// establish dials desc and lists its tools, holding a semaphore slot for
// the duration of the attempt.
func (m *Manager) establish(ctx context.Context, sem *semaphore.Weighted, desc ServerDescriptor, timeout time.Duration) (Transport, []Tool, error) {
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
		defer sem.Release(1)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := m.dialer.Dial(ctx, desc)
	if err != nil {
		return nil, nil, err
	}
	tools, err := transport.ListTools(ctx)
	if err != nil {
		m.closeTransport(desc.Name, transport)
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}
	return transport, tools, nil
}

// normalizeTools keys tools by local name and applies the descriptor's
// allow and deny patterns.
func (m *Manager) normalizeTools(desc ServerDescriptor, tools []Tool) map[string]Tool {
	out := make(map[string]Tool, len(tools))
	for _, t := range tools {
		if t.NativeName == "" {
			t.NativeName = t.Name
		}
		t.Name = m.ns.LocalName(desc.Name, t.Name)
		t.Server = desc.Name
		if t.Name == "" || !toolAllowed(desc, t.Name) {
			continue
		}
		out[t.Name] = t
	}
	return out
}

func toolAllowed(desc ServerDescriptor, name string) bool {
	if len(desc.AllowedTools) > 0 && !matchAny(desc.AllowedTools, name) {
		return false
	}
	return !matchAny(desc.DisallowedTools, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// monitor waits for a session to end. When it ends on its own the
// connection is marked disconnected, its handle is kept until the next
// attempt closes it, and a reconnect is scheduled.
func (m *Manager) monitor(name string, conn *serverConnection, gen uint64, waiter SessionWaiter) {
	err := waiter.Wait()

	m.mu.Lock()
	if m.shuttingDown || m.conns[name] != conn || conn.gen != gen || !conn.connected {
		m.mu.Unlock()
		return
	}
	if err == nil {
		err = errors.New("session closed by server")
	}
	conn.connected = false
	conn.state = StateDisconnected
	conn.lastErr = err
	conn.tools = map[string]Tool{}
	m.catalog.remove(name)
	m.scheduleLocked(name, backoffDelay(m.opts.BaseRetryDelay, m.opts.MaxRetryDelay, m.retries[name]))
	connected, total := m.countsLocked()
	m.mu.Unlock()

	m.metrics.setGauges(connected, total)
	m.logger.Warn("tool server session ended", "server", name, "error", err)
	m.events.emit(Event{Kind: EventServerError, Server: name, Err: err})
}

// UpdateConfig reconciles running connections with cfg. Removed and newly
// disabled servers are disconnected and purged, newly enabled servers are
// connected, and servers whose descriptor changed are disconnected and then
// reconnected after the settle delay. Unchanged servers are left alone.
func (m *Manager) UpdateConfig(ctx context.Context, cfg GlobalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone().withDefaults()

	m.mu.Lock()
	if m.lifecycle != lifecycleRunning || m.shuttingDown {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if cfg.MaxConcurrentConnections != m.cfg.MaxConcurrentConnections {
		m.sem = newSemaphore(cfg.MaxConcurrentConnections)
	}
	m.cfg = cfg

	wanted := make(map[string]ServerDescriptor)
	for _, d := range m.enabledServersLocked() {
		wanted[d.Name] = d
	}

	var disconnected []string
	var closing []closingTransport
	changed := make(map[string]bool)
	for name, conn := range m.conns {
		desc, keep := wanted[name]
		switch {
		case !keep:
			closing = append(closing, closingTransport{name, m.purgeLocked(name)})
			disconnected = append(disconnected, name)
		case !conn.desc.Equal(desc):
			closing = append(closing, closingTransport{name, m.purgeLocked(name)})
			disconnected = append(disconnected, name)
			changed[name] = true
			m.scheduleLocked(name, m.opts.SettleDelay)
		}
	}
	for name := range m.pending {
		if _, keep := wanted[name]; !keep {
			m.cancelPendingLocked(name)
		}
	}
	var connectNow []ServerDescriptor
	for _, d := range m.enabledServersLocked() {
		if _, exists := m.conns[d.Name]; exists || changed[d.Name] {
			continue
		}
		if _, scheduled := m.pending[d.Name]; scheduled {
			continue
		}
		connectNow = append(connectNow, d)
	}
	connected, total := m.countsLocked()
	m.mu.Unlock()

	m.metrics.setGauges(connected, total)
	m.closeAll(ctx, closing)
	slices.Sort(disconnected)
	for _, name := range disconnected {
		m.logger.Info("tool server disconnected", "server", name, "reason", "config update")
		m.events.emit(Event{Kind: EventServerDisconnected, Server: name})
	}
	m.connectAll(ctx, connectNow)
	return nil
}

// Reconnect closes any existing handle for name, resets its retry counter
// and runs a fresh attempt, returning the attempt's error.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.lifecycle != lifecycleRunning || m.shuttingDown {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	desc, ok := m.enabledDescriptorLocked(name)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mcpmgr: %w: %s", ErrServerNotFound, name)
	}
	delete(m.retries, name)
	m.cancelPendingLocked(name)
	m.mu.Unlock()
	return m.connectToServer(ctx, desc)
}

// Disconnect closes and purges one server. It stays configured and comes
// back with Reconnect or the next UpdateConfig.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	m.mu.Lock()
	if _, ok := m.conns[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("mcpmgr: %w: %s", ErrServerNotFound, name)
	}
	transport := m.purgeLocked(name)
	connected, total := m.countsLocked()
	m.mu.Unlock()

	m.metrics.setGauges(connected, total)
	m.closeAll(ctx, []closingTransport{{name, transport}})
	m.logger.Info("tool server disconnected", "server", name)
	m.events.emit(Event{Kind: EventServerDisconnected, Server: name})
	return nil
}

// Shutdown stops pending retries, closes every transport concurrently and
// clears all state. Close failures are logged, not returned. Calling it
// again is a no-op; a later Initialize starts fresh.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.lifecycle != lifecycleRunning {
		m.mu.Unlock()
		return nil
	}
	m.shuttingDown = true
	m.lifecycle = lifecycleStopped
	m.cancelAllPendingLocked()
	m.deferred = make(map[string]struct{})
	closing := make([]closingTransport, 0, len(m.conns))
	for name, conn := range m.conns {
		closing = append(closing, closingTransport{name, conn.detach()})
		conn.state = StateDisconnected
	}
	m.conns = make(map[string]*serverConnection)
	m.retries = make(map[string]int)
	m.catalog.clear()
	m.mu.Unlock()

	m.metrics.setGauges(0, 0)
	slices.SortFunc(closing, func(a, b closingTransport) int { return cmp.Compare(a.name, b.name) })
	err := m.closeAll(ctx, closing)
	for _, c := range closing {
		m.events.emit(Event{Kind: EventServerDisconnected, Server: c.name})
	}
	m.logger.Info("tool server manager shut down", "servers", len(closing))
	m.events.emit(Event{Kind: EventShutdown})
	return err
}

type closingTransport struct {
	name      string
	transport Transport
}

// closeAll closes transports concurrently. It returns ctx.Err() if ctx ends
// before every close has returned.
func (m *Manager) closeAll(ctx context.Context, closing []closingTransport) error {
	var g errgroup.Group
	for _, c := range closing {
		g.Go(func() error {
			m.closeTransport(c.name, c.transport)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("stopped waiting for transports to close", "error", ctx.Err())
		return ctx.Err()
	}
}

func (m *Manager) closeTransport(name string, t Transport) {
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		m.logger.Warn("tool server close failed", "server", name, "error", &CloseError{Server: name, Err: err})
	}
}

// purgeLocked removes name from the connection table and returns its
// transport for closing.
func (m *Manager) purgeLocked(name string) Transport {
	conn, ok := m.conns[name]
	if !ok {
		return nil
	}
	t := conn.detach()
	conn.state = StateDisconnected
	delete(m.conns, name)
	delete(m.retries, name)
	delete(m.deferred, name)
	m.cancelPendingLocked(name)
	m.catalog.remove(name)
	return t
}

// enabledServersLocked returns the descriptors that should be connected, in
// priority order.
func (m *Manager) enabledServersLocked() []ServerDescriptor {
	if !m.cfg.Enabled {
		return nil
	}
	var out []ServerDescriptor
	for _, d := range m.cfg.Servers {
		if d.Enabled {
			out = append(out, d)
		}
	}
	sortByPriority(out, func(d ServerDescriptor) (int, string) { return d.Priority, d.Name })
	return out
}

func (m *Manager) enabledDescriptorLocked(name string) (ServerDescriptor, bool) {
	if !m.cfg.Enabled {
		return ServerDescriptor{}, false
	}
	for _, d := range m.cfg.Servers {
		if d.Name == name && d.Enabled {
			return d, true
		}
	}
	return ServerDescriptor{}, false
}

func (m *Manager) countsLocked() (connected, tools int) {
	for _, conn := range m.conns {
		if conn.connected {
			connected++
			tools += len(conn.tools)
		}
	}
	return connected, tools
}

// sortByPriority orders items by descending priority, then name.
func sortByPriority[T any](items []T, key func(T) (int, string)) {
	slices.SortStableFunc(items, func(a, b T) int {
		pa, na := key(a)
		pb, nb := key(b)
		if c := cmp.Compare(pb, pa); c != 0 {
			return c
		}
		return cmp.Compare(na, nb)
	})
}

func newSemaphore(limit int) *semaphore.Weighted {
	if limit <= 0 {
		return nil
	}
	return semaphore.NewWeighted(int64(limit))
}

// GetStatus returns connection counts and a snapshot of every connection,
// ordered by priority.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := Status{
		Enabled:      m.cfg.Enabled,
		TotalServers: len(m.conns),
		Servers:      make([]ConnectionSnapshot, 0, len(m.conns)),
	}
	for name, conn := range m.conns {
		_, pending := m.pending[name]
		status.Servers = append(status.Servers, conn.snapshot(pending))
	}
	status.ConnectedServers, status.TotalTools = m.countsLocked()
	sortByPriority(status.Servers, func(s ConnectionSnapshot) (int, string) { return s.Priority, s.Name })
	return status
}

// ListServers returns the names in the connection table, sorted.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HasServer reports whether name is in the connection table.
func (m *Manager) HasServer(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[name]
	return ok
}

// Catalog exposes the merged tool catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// AllTools returns the merged, namespaced catalog of connected servers.
func (m *Manager) AllTools() map[string]CatalogEntry {
	return m.catalog.AllTools()
}

// ToolsForServer returns the unprefixed tools of one connected server.
func (m *Manager) ToolsForServer(name string) map[string]Tool {
	return m.catalog.ToolsForServer(name)
}
