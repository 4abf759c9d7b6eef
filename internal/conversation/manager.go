package conversation

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fgorczyca03/MathTutorApplication/internal/events"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is a conversation held for the lifetime of one client session.
type Session struct {
	ID        uuid.UUID
	Store     *Store
	CreatedAt time.Time
	lastSeen  time.Time
}

// Manager keeps sessions in memory and evicts the ones left idle.
type Manager struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*Session
	tutor       Tutor
	publisher   events.Publisher
	idleTimeout time.Duration
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
}

func NewManager(tutor Tutor, publisher events.Publisher, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[uuid.UUID]*Session),
		tutor:       tutor,
		publisher:   publisher,
		idleTimeout: idleTimeout,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

func (m *Manager) Create() *Session {
	now := m.now()
	id := uuid.New()
	sess := &Session{
		ID:        id,
		Store:     NewStore(id, m.tutor, m.publisher),
		CreatedAt: now,
		lastSeen:  now,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess
}

func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = m.now()
	return sess, nil
}

// Delete removes the session and resets its store so a late reply is dropped.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Store.Reset()
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start runs the idle eviction loop until Stop is called.
func (m *Manager) Start() {
	if m.idleTimeout <= 0 {
		return
	}
	interval := m.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopChan:
				return
			case <-ticker.C:
				if n := m.evictIdle(); n > 0 {
					log.Printf("Evicted %d idle sessions", n)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// evictIdle drops sessions untouched for longer than the idle timeout. Sessions with a call in
// flight are kept.
func (m *Manager) evictIdle() int {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var evicted []*Session
	for id, sess := range m.sessions {
		if sess.lastSeen.After(cutoff) || sess.Store.IsLoading() {
			continue
		}
		evicted = append(evicted, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range evicted {
		sess.Store.Reset()
	}
	return len(evicted)
}
