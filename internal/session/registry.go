package session

import (
	"sync"
)

// Registry hands out one session per participant. It replaces the implicit
// shared "current session" object with an explicit lifecycle: sessions are
// created on first use and removed on End.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds a registry that constructs sessions from cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, sessions: make(map[string]*Session)}
}

// Acquire returns the participant's session, creating it if needed.
func (r *Registry) Acquire(participantID string) *Session {
	r.mu.RLock()
	sess, ok := r.sessions[participantID]
	r.mu.RUnlock()
	if ok {
		return sess
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[participantID]; ok {
		return sess
	}
	sess = New(r.cfg)
	r.sessions[participantID] = sess
	return sess
}

// Lookup returns the participant's session without creating one.
func (r *Registry) Lookup(participantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[participantID]
	return sess, ok
}

// Release ends and removes the participant's session. No-op when absent.
func (r *Registry) Release(participantID string) {
	r.mu.Lock()
	sess, ok := r.sessions[participantID]
	delete(r.sessions, participantID)
	r.mu.Unlock()
	if ok {
		sess.End()
	}
}
