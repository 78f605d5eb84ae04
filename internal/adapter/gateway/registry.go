package gateway

import (
	"sync"

	"mcbridge/internal/domain"
)

// Registry holds the single active game connection.
type Registry struct {
	mu     sync.RWMutex
	active domain.GameConn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Set makes conn the active connection and returns the one it displaced,
// if any. The caller owns closing the displaced connection.
func (r *Registry) Set(conn domain.GameConn) domain.GameConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.active
	r.active = conn
	return prev
}

// Clear unregisters conn if it is still the active connection and reports
// whether it was.
func (r *Registry) Clear(conn domain.GameConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.ID() != conn.ID() {
		return false
	}
	r.active = nil
	return true
}

// Get returns the active connection.
func (r *Registry) Get() (domain.GameConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != nil
}

// Connected reports whether a game connection is active.
func (r *Registry) Connected() bool {
	_, ok := r.Get()
	return ok
}
