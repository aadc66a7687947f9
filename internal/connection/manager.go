// Package connection tracks live bot connections to the chat platform.
//
// The Manager is the only owner of live connection handles. It never writes
// bot records itself; it reports drops and successful logins on its event
// channel and leaves persistence to the subscriber.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Conn is a live, logged-in connection.
type Conn interface {
	// Tag is the account's display tag.
	Tag() string
	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}
	// Err explains why the connection ended; nil after Close.
	Err() error
	Close() error
}

// Connector logs in with a bot token.
type Connector interface {
	Connect(ctx context.Context, token string) (Conn, error)
}

// EventKind distinguishes connection events.
type EventKind int

const (
	// Connected is emitted after a persistent connection logged in.
	Connected EventKind = iota + 1
	// Disconnected is emitted when a registered connection drops on its own.
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event reports a change in a bot's connection.
type Event struct {
	Kind  EventKind
	BotID string
	Tag   string
	Err   error
}

var (
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("connection manager closed")
	// ErrCanceled is returned when Disconnect ran while the login was in flight.
	ErrCanceled = errors.New("connection attempt canceled")
)

const eventBuffer = 64

// Manager maps bot ids to live connections.
type Manager struct {
	connector Connector

	mu     sync.Mutex
	conns  map[string]Conn
	closed bool
	// gens is bumped by Disconnect; a login started under an older
	// generation is discarded.
	gens    map[string]uint64
	pending map[string]context.CancelFunc

	group  singleflight.Group
	events chan Event
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a manager that logs in through connector.
func NewManager(connector Connector) *Manager {
	return &Manager{
		connector: connector,
		conns:     make(map[string]Conn),
		gens:      make(map[string]uint64),
		pending:   make(map[string]context.CancelFunc),
		events:    make(chan Event, eventBuffer),
		quit:      make(chan struct{}),
	}
}

// Events returns the channel of connection events. It is never closed.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Trial logs in with token, records the tag and disconnects immediately.
func (m *Manager) Trial(ctx context.Context, token string) (string, error) {
	conn, err := m.connector.Connect(ctx, token)
	if err != nil {
		return "", err
	}
	tag := conn.Tag()
	if err := conn.Close(); err != nil {
		slog.Debug("Trial connection close failed", "error", err)
	}
	return tag, nil
}

// IsConnected reports whether botID has a live connection.
func (m *Manager) IsConnected(botID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[botID]
	return ok
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// EnsureConnected makes sure botID has a live connection and returns its tag.
// Concurrent calls for the same bot share one login attempt.
func (m *Manager) EnsureConnected(ctx context.Context, botID, token string) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if conn, ok := m.conns[botID]; ok {
		m.mu.Unlock()
		return conn.Tag(), nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(botID, func() (any, error) {
		return m.connect(ctx, botID, token)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) connect(ctx context.Context, botID, token string) (string, error) {
	m.mu.Lock()
	if conn, ok := m.conns[botID]; ok {
		m.mu.Unlock()
		return conn.Tag(), nil
	}
	gen := m.gens[botID]
	ctx, cancel := context.WithCancel(ctx)
	m.pending[botID] = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.gens[botID] == gen {
			delete(m.pending, botID)
		}
		m.mu.Unlock()
		cancel()
	}()

	conn, err := m.connector.Connect(ctx, token)

	m.mu.Lock()
	stale := m.gens[botID] != gen
	if err != nil {
		m.mu.Unlock()
		if stale {
			return "", fmt.Errorf("connect bot %s: %w", botID, ErrCanceled)
		}
		return "", fmt.Errorf("connect bot %s: %w", botID, err)
	}
	if m.closed || stale {
		m.mu.Unlock()
		_ = conn.Close()
		if stale {
			return "", fmt.Errorf("connect bot %s: %w", botID, ErrCanceled)
		}
		return "", ErrClosed
	}
	m.conns[botID] = conn
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(botID, conn)

	slog.Info("Bot connected", "bot_id", botID, "tag", conn.Tag())
	m.emit(Event{Kind: Connected, BotID: botID, Tag: conn.Tag()})
	return conn.Tag(), nil
}

// watch forgets conn when it ends. Only drops the manager did not initiate
// produce a Disconnected event.
func (m *Manager) watch(botID string, conn Conn) {
	defer m.wg.Done()

	select {
	case <-conn.Done():
	case <-m.quit:
		return
	}

	m.mu.Lock()
	current, ok := m.conns[botID]
	dropped := ok && current == conn
	if dropped {
		delete(m.conns, botID)
	}
	m.mu.Unlock()

	if dropped {
		slog.Warn("Bot connection dropped", "bot_id", botID, "error", conn.Err())
		m.emit(Event{Kind: Disconnected, BotID: botID, Err: conn.Err()})
	}
}

// Disconnect closes botID's connection if there is one and cancels a login
// still in flight. It emits no event and reports whether a live connection
// was closed.
func (m *Manager) Disconnect(botID string) bool {
	m.mu.Lock()
	m.gens[botID]++
	if cancel, pending := m.pending[botID]; pending {
		delete(m.pending, botID)
		cancel()
	}
	// Later callers must not join the canceled login.
	m.group.Forget(botID)
	conn, ok := m.conns[botID]
	if ok {
		delete(m.conns, botID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := conn.Close(); err != nil {
		slog.Warn("Failed to close bot connection", "bot_id", botID, "error", err)
	}
	slog.Info("Bot disconnected", "bot_id", botID)
	return true
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}

// Close disconnects every bot and stops the watchers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := m.conns
	m.conns = make(map[string]Conn)
	for id, cancel := range m.pending {
		delete(m.pending, id)
		cancel()
	}
	m.mu.Unlock()

	close(m.quit)
	for id, conn := range conns {
		if err := conn.Close(); err != nil {
			slog.Warn("Failed to close bot connection", "bot_id", id, "error", err)
		}
	}
	m.wg.Wait()
}
