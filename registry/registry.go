package registry

import (
	"sort"
	"sync"
)

// Live is implemented by anything whose lifetime is signalled by a closed channel
type Live interface {
	comparable
	Done() <-chan struct{}
}

// Registry maps charger ids to live sessions.
//
// It never keeps a session usable past its lifetime: Get ignores entries
// whose Done channel is closed, so a lookup racing a disconnect can not
// hand out a dead session.
//
// Entries are strong references. The owner of a session closes its Done
// channel before calling Remove, so a closed channel plays the part of a
// cleared weak reference.
type Registry[T Live] struct {
	mu      sync.Mutex
	entries map[string]T
}

func New[T Live]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]T)}
}

// Insert stores v under id unless a live entry is already there
func (r *Registry[T]) Insert(id string, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.entries[id]; ok && alive(prev) {
		return false
	}
	r.entries[id] = v
	return true
}

// Remove deletes the entry of id if it still refers to v
func (r *Registry[T]) Remove(id string, v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[id]; ok && cur == v {
		delete(r.entries, id)
		return true
	}
	return false
}

func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.entries[id]
	if !ok || !alive(v) {
		var zero T
		return zero, false
	}
	return v, true
}

// Contains reports whether a live entry exists for id
func (r *Registry[T]) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs lists the ids of live entries in order
func (r *Registry[T]) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id, v := range r.entries {
		if alive(v) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func alive[T Live](v T) bool {
	select {
	case <-v.Done():
		return false
	default:
		return true
	}
}
