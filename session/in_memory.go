package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

type entry struct {
	mu      sync.Mutex
	session *core.Session
	deleted bool
}

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// a process local map. The map lock is only held for lookups; each session
// carries its own mutex so writes to independent sessions never contend.
// Every returned session is cloned to prevent external mutation.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*entry)}
}

func (s *InMemoryStore) lookup(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	return e, ok
}

// acquire returns the locked entry for sessionID, creating it when create is
// set. The caller must unlock e.mu.
func (s *InMemoryStore) acquire(sessionID, userID string, create bool) (*entry, bool) {
	for {
		e, ok := s.lookup(sessionID)
		if !ok {
			if !create {
				return nil, false
			}
			s.mu.Lock()
			if e, ok = s.sessions[sessionID]; !ok {
				e = &entry{session: core.NewSession(sessionID, userID)}
				s.sessions[sessionID] = e
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if !e.deleted {
			return e, true
		}
		// lost a race with Delete; retry against the fresh map state
		e.mu.Unlock()
	}
}

// Ensure returns the session, creating it when absent.
func (s *InMemoryStore) Ensure(_ context.Context, sessionID, userID string) (*core.Session, error) {
	e, _ := s.acquire(sessionID, userID, true)
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Get returns a copy of an existing session.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	e, ok := s.acquire(sessionID, "", false)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// AppendTurn records a turn, lazily creating the session.
func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID string, turn core.Turn) error {
	e, _ := s.acquire(sessionID, "", true)
	defer e.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	e.session.History = append(e.session.History, turn)
	e.session.LastActivity = turn.Timestamp
	return nil
}

// RecentContext returns the last limit turns oldest first.
func (s *InMemoryStore) RecentContext(_ context.Context, sessionID string, limit int) ([]core.Turn, error) {
	e, ok := s.acquire(sessionID, "", false)
	if !ok {
		return []core.Turn{}, nil
	}
	defer e.mu.Unlock()
	return e.session.Recent(limit), nil
}

// ConversationState returns a copy of the session's conversation state or nil.
func (s *InMemoryStore) ConversationState(_ context.Context, sessionID string) (*core.ConversationState, error) {
	e, ok := s.acquire(sessionID, "", false)
	if !ok {
		return nil, nil
	}
	defer e.mu.Unlock()
	return e.session.Conversation.Clone(), nil
}

// SetConversationState stores a copy of state; nil returns the session to idle.
func (s *InMemoryStore) SetConversationState(_ context.Context, sessionID string, state *core.ConversationState) error {
	e, ok := s.acquire(sessionID, "", state != nil)
	if !ok {
		return nil
	}
	defer e.mu.Unlock()
	e.session.Conversation = state.Clone()
	e.session.LastActivity = time.Now().UTC()
	return nil
}

// Delete removes the session. Deleting an unknown session is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
	}
	return nil
}

// Clear drops history and conversation state but keeps the session.
func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	e, ok := s.acquire(sessionID, "", false)
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	defer e.mu.Unlock()
	e.session.History = []core.Turn{}
	e.session.Conversation = nil
	e.session.LastActivity = time.Now().UTC()
	return nil
}

// Len returns the number of stored sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
