package review

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/celerix-enrich/internal/engine"
)

// ErrSessionNotFound is returned for an unknown or expired session id.
var ErrSessionNotFound = fmt.Errorf("review session %w", engine.ErrNotFound)

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Registry holds the review sessions served over HTTP. Sessions live in
// process memory only and are dropped after idle.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	idle     time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry. An idle <= 0 keeps sessions until removed.
func NewRegistry(idle time.Duration) *Registry {
	return &Registry{sessions: make(map[string]*entry), idle: idle, now: time.Now}
}

// Add registers s and returns its id.
func (r *Registry) Add(s *Session) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	r.sessions[id] = &entry{session: s, lastSeen: r.now()}
	return id
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.session, nil
}

// Remove drops the session with id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	return len(r.sessions)
}

// sweep MUST be called while holding r.mu.
func (r *Registry) sweep() {
	if r.idle <= 0 {
		return
	}
	cutoff := r.now().Add(-r.idle)
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
