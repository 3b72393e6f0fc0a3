package session

import (
	"sync"
	"time"

	"github.com/jmcleod/panelgate/panel"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	pending  map[string]PendingBind
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]Session),
		pending:  make(map[string]PendingBind),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a private copy of the session. Stored binding maps are never
// mutated in place, but the copy is still taken under the lock.
func (s *MemoryStore) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !sess.Valid(s.now()) {
		delete(s.sessions, id)
		return Session{}, ErrNotFound
	}
	return sess.clone(), nil
}

func (s *MemoryStore) Put(sess Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess.clone()
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *MemoryStore) BindPanel(id string, t panel.Type, b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Valid(s.now()) {
		delete(s.sessions, id)
		return ErrNotFound
	}
	sess = sess.clone()
	sess.PanelBindings[t] = b
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) UnbindPanel(accountID, configID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.AccountID != accountID {
			continue
		}
		var stale []panel.Type
		for t, b := range sess.PanelBindings {
			if b.ConfigID == configID {
				stale = append(stale, t)
			}
		}
		if len(stale) == 0 {
			continue
		}
		sess = sess.clone()
		for _, t := range stale {
			delete(sess.PanelBindings, t)
		}
		s.sessions[id] = sess
	}
}

func (s *MemoryStore) PutPending(p PendingBind) {
	s.mu.Lock()
	s.pending[p.ID] = p
	s.mu.Unlock()
}

func (s *MemoryStore) TakePending(id string) (PendingBind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return PendingBind{}, ErrNotFound
	}
	delete(s.pending, id)
	if !s.now().Before(p.ExpiresAt) {
		return PendingBind{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.Valid(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, p := range s.pending {
		if !now.Before(p.ExpiresAt) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions and pending binds, including
// expired entries not yet swept.
func (s *MemoryStore) Len() (sessions, pending int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.pending)
}
