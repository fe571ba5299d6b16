// Package registry tracks which users currently hold a live duplex
// connection. Each relay owns its own Registry instance; the chat and
// notification channels never share state.
package registry

import "sync"

// Conn is an opaque handle to one live duplex connection. Send pushes a
// named event with a payload; failures are the caller's to log.
type Conn interface {
	Send(event string, payload any) error
	Close() error
}

// Registry is a concurrency-safe map from user id to the user's single
// active connection. A new registration for the same user silently
// evicts the previous handle (last write wins); there is no
// multi-device fan-out.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register binds userID to conn, returning the evicted handle if a
// different one was registered before.
func (r *Registry) Register(userID string, conn Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev = r.conns[userID]
	r.conns[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Unregister removes the entry holding conn. The registry is scanned in
// full; concurrent connection counts are small enough that O(n) is
// fine. Unregistering a handle that was never registered is a no-op.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, c := range r.conns {
		if c == conn {
			delete(r.conns, userID)
			return
		}
	}
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Users returns the ids of all currently connected users.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		users = append(users, userID)
	}
	return users
}
