package dialog

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager holds many independent sessions keyed by id. Sessions share
// nothing but what their factory gives them.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managed
	factory  func(id string) *Session
	idle     time.Duration
	now      func() time.Time
}

type managed struct {
	session  *Session
	lastUsed time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTimeout forgets sessions that saw no turn for d. Zero keeps them
// until Close.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idle = d }
}

// WithManagerClock sets the clock used to measure idleness.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager; factory builds a session for a new id.
func NewManager(factory func(id string) *Session, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*managed),
		factory:  factory,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the session called id, creating it when needed. An
// empty id opens a new session with a random id. Idle sessions are
// evicted on the way.
func (m *Manager) Session(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.evictLocked(now)
	e, ok := m.sessions[id]
	if !ok {
		e = &managed{session: m.factory(id)}
		m.sessions[id] = e
	}
	e.lastUsed = now
	return e.session
}

func (m *Manager) evictLocked(now time.Time) {
	if m.idle <= 0 {
		return
	}
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) > m.idle {
			delete(m.sessions, id)
		}
	}
}

// HandleTurn forwards utterance to the session called id and returns the
// session id with the reply.
func (m *Manager) HandleTurn(ctx context.Context, id, utterance string) (string, string) {
	s := m.Session(id)
	reply := s.HandleTurn(ctx, utterance)
	m.touch(s.ID())
	return s.ID(), reply
}

func (m *Manager) touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastUsed = m.now()
	}
}

// Reset resets the session called id. It reports whether it existed.
func (m *Manager) Reset(ctx context.Context, id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		e.session.Reset(ctx)
		m.touch(id)
	}
	return ok
}

// Close forgets the session called id.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// IDs lists the open sessions, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(m.now())
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
