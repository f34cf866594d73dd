// File: internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// MemorySessionStore is the default in-process SessionStore. All access is
// guarded by a RWMutex; stored sessions are copied on the way in and out so
// callers never share a live pointer with the store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*schemas.Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*schemas.Session)}
}

// Save implements SessionStore.
func (s *MemorySessionStore) Save(_ context.Context, session *schemas.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("cannot save session without an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copySession(session)
	s.sessions[session.ID] = cp
	return nil
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*schemas.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, schemas.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Delete implements SessionStore.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return schemas.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List implements SessionStore.
func (s *MemorySessionStore) List(_ context.Context) ([]*schemas.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schemas.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	return out, nil
}

func copySession(in *schemas.Session) *schemas.Session {
	out := *in
	out.Steps = make([]schemas.Step, len(in.Steps))
	for i, st := range in.Steps {
		out.Steps[i] = st.Clone()
	}
	if in.Context.EnvironmentState != nil {
		env := make(map[string]string, len(in.Context.EnvironmentState))
		for k, v := range in.Context.EnvironmentState {
			env[k] = v
		}
		out.Context.EnvironmentState = env
	}
	out.Context.PreviousSteps = append([]string(nil), in.Context.PreviousSteps...)
	if in.PausedAt != nil {
		t := *in.PausedAt
		out.PausedAt = &t
	}
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// MemoryHistoryStore is the default in-process HistoryStore.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	history map[string][]schemas.StepResult
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{history: make(map[string][]schemas.StepResult)}
}

// Append implements HistoryStore.
func (s *MemoryHistoryStore) Append(_ context.Context, sessionID string, result schemas.StepResult) error {
	if sessionID == "" {
		return fmt.Errorf("cannot append history without a session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID], result)
	return nil
}

// Get implements HistoryStore.
func (s *MemoryHistoryStore) Get(_ context.Context, sessionID string) ([]schemas.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schemas.StepResult(nil), s.history[sessionID]...), nil
}

// Clear implements HistoryStore.
func (s *MemoryHistoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
	return nil
}
