package session

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/flowsim/internal/ir"
)

// ErrSessionNotFound is returned for an unknown or evicted session id.
var ErrSessionNotFound = errors.New("session: not found")

// DefaultMaxSessions bounds a Manager when no limit is given.
const DefaultMaxSessions = 64

// Manager hosts isolated sessions keyed by id. When more than maxSessions
// are open, the least recently accessed one is dropped.
type Manager struct {
	mu       sync.Mutex
	max      int
	ids      IDGenerator
	byID     map[string]*list.Element
	lru      *list.List
	opts     []Option
	recorder Recorder
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIDGenerator replaces the UUIDv7 session id generator.
func WithIDGenerator(g IDGenerator) ManagerOption {
	return func(m *Manager) { m.ids = g }
}

// WithSessionOptions applies opts to every session the manager creates.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

// WithManagerMetrics reports open sessions and snapshot evictions to r.
func WithManagerMetrics(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a manager holding at most maxSessions sessions.
func NewManager(maxSessions int, opts ...ManagerOption) *Manager {
	if maxSessions < 1 {
		maxSessions = DefaultMaxSessions
	}
	m := &Manager{
		max:      maxSessions,
		ids:      UUIDv7Generator{},
		byID:     map[string]*list.Element{},
		lru:      list.New(),
		recorder: nopRecorder{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create opens a session over sc seeded with events.
func (m *Manager) Create(sc ir.Scenario, events []ir.ExternalEvent) (*Session, error) {
	id := m.ids.Generate()
	opts := append([]Option{WithMetrics(m.recorder)}, m.opts...)
	s, err := New(id, sc, events, opts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = m.lru.PushFront(s)
	for m.lru.Len() > m.max {
		oldest := m.lru.Back()
		victim := oldest.Value.(*Session)
		m.lru.Remove(oldest)
		delete(m.byID, victim.id)
		slog.Info("session evicted", "session_id", victim.id, "max_sessions", m.max)
	}
	m.recorder.SessionsActive(m.lru.Len())
	return s, nil
}

// Get returns the session and marks it most recently used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.lru.MoveToFront(el)
	return el.Value.(*Session), nil
}

// Delete closes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.byID[id]
	if !ok {
		return ErrSessionNotFound
	}
	m.lru.Remove(el)
	delete(m.byID, id)
	m.recorder.SessionsActive(m.lru.Len())
	return nil
}

// IDs lists open sessions, most recently used first.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, m.lru.Len())
	for el := m.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*Session).id)
	}
	return out
}

// Len is the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
