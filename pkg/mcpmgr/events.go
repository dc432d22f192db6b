package mcpmgr

import (
	"fmt"
	"log/slog"
	"sync"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	EventInitialized        EventKind = "initialized"
	EventServerConnected    EventKind = "serverConnected"
	EventServerError        EventKind = "serverError"
	EventServerDisconnected EventKind = "serverDisconnected"
	EventShutdown           EventKind = "shutdown"
)

// Event is published to subscribers. Only the fields relevant to Kind are
// set: Status for initialized, ToolCount for serverConnected, Err for
// serverError and Server for every per-server event.
type Event struct {
	Kind      EventKind
	Server    string
	ToolCount int
	Err       error
	Status    *Status
}

type subscriber struct {
	id uint64
	fn func(Event)
}

type eventBus struct {
	logger *slog.Logger

	mu   sync.Mutex
	next uint64
	subs []subscriber
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit delivers ev synchronously, in subscription order. It must not be
// called with Manager.mu held.
func (b *eventBus) emit(ev Event) {
	b.mu.Lock()
	subs := append([]subscriber(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *eventBus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(ev.Kind), "server", ev.Server, "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}

// Subscribe registers fn for every lifecycle event and returns a function
// that removes it. Handlers run on the goroutine that produced the event,
// after the manager has released its locks, so they may call back into the
// manager.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	return m.events.subscribe(fn)
}

// OnInitialized registers fn for the event published once all initial
// connection attempts have settled.
func (m *Manager) OnInitialized(fn func(Status)) func() {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventInitialized && ev.Status != nil {
			fn(*ev.Status)
		}
	})
}

// OnServerConnected registers fn for successful connections.
func (m *Manager) OnServerConnected(fn func(server string, toolCount int)) func() {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventServerConnected {
			fn(ev.Server, ev.ToolCount)
		}
	})
}

// OnServerError registers fn for failed attempts and dropped sessions.
func (m *Manager) OnServerError(fn func(server string, err error)) func() {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventServerError {
			fn(ev.Server, ev.Err)
		}
	})
}

// OnServerDisconnected registers fn for servers that were disconnected by
// the manager.
func (m *Manager) OnServerDisconnected(fn func(server string)) func() {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventServerDisconnected {
			fn(ev.Server)
		}
	})
}

// OnShutdown registers fn for the terminal shutdown event.
func (m *Manager) OnShutdown(fn func()) func() {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventShutdown {
			fn()
		}
	})
}
