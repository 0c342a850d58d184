package session

import (
	"context"
	"sync"
	"time"

	"github.com/navikt/polly-sub000/pkg/errors"
)

// MemoryStore is an in-memory Store for single-instance deployments and
// tests. All operations take the full map lock for no longer than a single
// map operation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

var _ Store = (*MemoryStore)(nil)

// Put inserts or replaces a session.
func (s *MemoryStore) Put(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// Get returns a session by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, errors.NewNotFoundError("session not found", nil)
	}
	return sess, nil
}

// Update replaces an existing session.
func (s *MemoryStore) Update(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return errors.NewNotFoundError("session not found", nil)
	}
	s.sessions[sess.ID] = sess
	return nil
}

// TouchLastActive refreshes only the session's activity timestamp.
func (s *MemoryStore) TouchLastActive(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errors.NewNotFoundError("session not found", nil)
	}
	sess.LastActiveAt = at
	s.sessions[id] = sess
	return nil
}

// DeleteIdleSince removes sessions idle since before the cutoff.
func (s *MemoryStore) DeleteIdleSince(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActiveAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-memory store.
func (*MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error { return nil }
