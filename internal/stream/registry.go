package stream

import (
	"context"
	"sync"
)

// Conn is the registry's view of one open observer connection. Close must be
// idempotent; the registry may call it during CloseAll while the owning
// handler is tearing the connection down on its own.
type Conn interface {
	Close()
}

// Registry tracks the open observer connections per stream key. It is
// bookkeeping only, not a delivery path: handlers register themselves so
// shutdown can close every connection for a key (or all keys) in bulk.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[Conn]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[Conn]struct{})}
}

// Add registers conn under key.
func (r *Registry) Add(key string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[key]
	if !ok {
		set = make(map[Conn]struct{})
		r.conns[key] = set
	}
	set[conn] = struct{}{}
}

// Remove deregisters conn from key. Removing an absent connection is a
// no-op.
func (r *Registry) Remove(key string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[key]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.conns, key)
	}
}

// Count reports the number of registered connections for key.
func (r *Registry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[key])
}

// CloseAll closes and removes every connection registered under key.
func (r *Registry) CloseAll(key string) {
	for _, conn := range r.snapshot(key) {
		conn.Close()
		r.Remove(key, conn)
	}
}

// Shutdown closes every connection for every key, honoring ctx between
// keys so a stuck Close cannot delay process exit indefinitely.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.conns))
	for key := range r.conns {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.CloseAll(key)
	}
}

func (r *Registry) snapshot(key string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[key]
	out := make([]Conn, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}
