package gateway

import (
	"sort"
	"sync"

	"github.com/tarancss/satp/lib/satp"
)

// Registry holds the sessions of a gateway. Work on one session is serialized with the session lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*satp.Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*satp.Session)}
}

// Session returns the session of id.
func (r *Registry) Session(id string) (*satp.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]

	return s, ok
}

// Register adds s. Registering another session under a used id fails.
func (r *Registry) Register(s *satp.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[s.ID()]; ok && prev != s {
		return satp.Errorf("Registry#Register", satp.KindSessionExists, "%s", s.ID())
	}

	r.sessions[s.ID()] = s

	return nil
}

// Sessions returns every session sorted by id.
func (r *Registry) Sessions() []*satp.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*satp.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })

	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
