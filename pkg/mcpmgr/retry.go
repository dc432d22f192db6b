package mcpmgr

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// pendingAttempt is a scheduled connection attempt. The id lets a timer that
// fires after being replaced recognize that it is stale.
type pendingAttempt struct {
	id    uint64
	timer clockwork.Timer
}

// backoffDelay returns min(base*2^failures, ceiling).
func backoffDelay(base, ceiling time.Duration, failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= 32 {
		return ceiling
	}
	d := base << failures
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// scheduleLocked arms a connection attempt for name after delay, replacing
// any attempt already pending. Callers must hold m.mu.
func (m *Manager) scheduleLocked(name string, delay time.Duration) {
	m.cancelPendingLocked(name)
	m.timerSeq++
	id := m.timerSeq
	timer := m.clock.AfterFunc(delay, func() {
		go m.fire(name, id)
	})
	m.pending[name] = pendingAttempt{id: id, timer: timer}
	m.logger.Debug("connection attempt scheduled", "server", name, "delay", delay)
}

func (m *Manager) cancelPendingLocked(name string) {
	if p, ok := m.pending[name]; ok {
		p.timer.Stop()
		delete(m.pending, name)
	}
}

func (m *Manager) cancelAllPendingLocked() {
	for name := range m.pending {
		m.cancelPendingLocked(name)
	}
}

// fire runs a scheduled attempt. The descriptor is read from the current
// configuration so a retry always uses the latest settings. Timers are
// no-ops once the manager is shutting down, the attempt was superseded, or
// the server no longer needs a connection.
func (m *Manager) fire(name string, id uint64) {
	m.mu.Lock()
	p, ok := m.pending[name]
	if !ok || p.id != id || m.shuttingDown || m.lifecycle != lifecycleRunning {
		m.mu.Unlock()
		return
	}
	delete(m.pending, name)
	desc, ok := m.enabledDescriptorLocked(name)
	if !ok {
		m.mu.Unlock()
		return
	}
	if conn, exists := m.conns[name]; exists && (conn.connected || m.attempts[name] == conn) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	_ = m.connectToServer(context.Background(), desc)
}

// hasPendingAttempt reports whether an attempt is scheduled for name.
func (m *Manager) hasPendingAttempt(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pending[name]
	return ok
}
