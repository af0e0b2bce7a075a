// Package notify is the event-routing core: the registry of open push
// channels and subscription indices, the pending-event queue, and the
// notification service that fans mutations out to subscribers.
package notify

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carina-health/upsrs/metrics"
)

// ConnectionManager owns the set of open push channels (at most one per AE
// title) and the bidirectional target↔subscriber indices. Connect callbacks
// run on every accepted channel, before the read loop starts.
type ConnectionManager struct {
	mu        sync.Mutex
	channels  map[string]*channel
	targets   map[string]map[string]struct{} // target UID → AE titles
	targetsOf map[string]map[string]struct{} // AE title → target UIDs
	callbacks []func(aeTitle string)
	log       zerolog.Logger
}

// NewConnectionManager returns an empty registry.
func NewConnectionManager(log zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		channels:  make(map[string]*channel),
		targets:   make(map[string]map[string]struct{}),
		targetsOf: make(map[string]map[string]struct{}),
		log:       log,
	}
}

// RegisterConnectCallback adds a callback invoked with the AE title of every
// accepted connection. May be called multiple times; all callbacks run.
func (m *ConnectionManager) RegisterConnectCallback(fn func(aeTitle string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Accept takes ownership of an upgraded websocket for the subscriber,
// replacing any existing channel, runs the connect callbacks, and then
// consumes inbound frames until the peer closes or a transport error occurs.
// Subscription rows are retained when the channel goes away.
func (m *ConnectionManager) Accept(conn *websocket.Conn, aeTitle string) {
	ch := newChannel(conn, aeTitle, m.log)

	m.mu.Lock()
	if old, ok := m.channels[aeTitle]; ok {
		old.close()
	}
	m.channels[aeTitle] = ch
	callbacks := make([]func(string), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	metrics.PushChannels.Inc()
	m.log.Info().Str("ae_title", aeTitle).Msg("push channel connected")

	// A failing callback must not take down the channel or the remaining
	// callbacks.
	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Str("ae_title", aeTitle).Interface("panic", r).Msg("connect callback failed")
				}
			}()
			fn(aeTitle)
		}()
	}

	// Read loop: inbound frames carry no meaning for event routing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	ch.close()
	m.mu.Lock()
	if m.channels[aeTitle] == ch {
		delete(m.channels, aeTitle)
	}
	m.mu.Unlock()

	metrics.PushChannels.Dec()
	m.log.Info().Str("ae_title", aeTitle).Msg("push channel closed")
}

// Subscribe records interest of an AE title in a target UID. Idempotent.
func (m *ConnectionManager) Subscribe(aeTitle, targetUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.targets[targetUID] == nil {
		m.targets[targetUID] = make(map[string]struct{})
	}
	m.targets[targetUID][aeTitle] = struct{}{}

	if m.targetsOf[aeTitle] == nil {
		m.targetsOf[aeTitle] = make(map[string]struct{})
	}
	m.targetsOf[aeTitle][targetUID] = struct{}{}
}

// Unsubscribe removes the interest; inverse of Subscribe.
func (m *ConnectionManager) Unsubscribe(aeTitle, targetUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.targets[targetUID]; ok {
		delete(set, aeTitle)
		if len(set) == 0 {
			delete(m.targets, targetUID)
		}
	}
	if set, ok := m.targetsOf[aeTitle]; ok {
		delete(set, targetUID)
		if len(set) == 0 {
			delete(m.targetsOf, aeTitle)
		}
	}
}

// SubscribersFor returns the AE titles subscribed to a target UID.
func (m *ConnectionManager) SubscribersFor(targetUID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.targets[targetUID]))
	for ae := range m.targets[targetUID] {
		out = append(out, ae)
	}
	return out
}

// Send hands a frame to the subscriber's open channel. It reports false when
// no channel is open or the channel cannot accept the frame; a failed writer
// drops its registry entry.
func (m *ConnectionManager) Send(aeTitle string, frame []byte) bool {
	m.mu.Lock()
	ch, ok := m.channels[aeTitle]
	m.mu.Unlock()

	if !ok || ch.closed() {
		return false
	}
	return ch.enqueue(frame)
}

// IsConnected reports whether the subscriber has an open channel.
func (m *ConnectionManager) IsConnected(aeTitle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[aeTitle]
	return ok && !ch.closed()
}

// Broadcast sends a frame to every open channel.
func (m *ConnectionManager) Broadcast(frame []byte) {
	m.mu.Lock()
	chans := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	for _, ch := range chans {
		ch.enqueue(frame)
	}
}

// OpenChannels returns the number of open channels.
func (m *ConnectionManager) OpenChannels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
