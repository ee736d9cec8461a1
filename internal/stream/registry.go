package stream

import (
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("stream not found")
	ErrExists   = errors.New("stream already open")
	// ErrAttached is returned when a second consumer tries to attach.
	ErrAttached = errors.New("stream already has a consumer")
	// ErrGone is returned when every event was already consumed. Streams are
	// not replayed; callers fetch the session result instead.
	ErrGone = errors.New("stream finished")
)

type registration struct {
	publisher *Publisher
	attached  bool
}

// Registry tracks the publisher of every live session.
type Registry struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*registration
}

// NewRegistry creates a registry whose publishers buffer capacity events.
func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity, entries: make(map[string]*registration)}
}

// Open creates the publisher for a session.
func (r *Registry) Open(sessionID string) (*Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; ok {
		return nil, ErrExists
	}
	pub := NewPublisher(sessionID, r.capacity)
	r.entries[sessionID] = &registration{publisher: pub}
	return pub, nil
}

func (r *Registry) Get(sessionID string) (*Publisher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return reg.publisher, true
}

// Attach claims the single consumer slot of a session stream. A consumer
// that detaches may attach again and continues from the next unread event.
func (r *Registry) Attach(sessionID string) (<-chan Event, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[sessionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if reg.attached {
		return nil, nil, ErrAttached
	}
	if reg.publisher.drained() {
		return nil, nil, ErrGone
	}
	reg.attached = true
	var once sync.Once
	detach := func() {
		once.Do(func() {
			r.mu.Lock()
			if current, ok := r.entries[sessionID]; ok && current == reg {
				reg.attached = false
			}
			r.mu.Unlock()
		})
	}
	return reg.publisher.Events(), detach, nil
}

// Attached reports whether a consumer currently holds the session stream.
func (r *Registry) Attached(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[sessionID]
	return ok && reg.attached
}

// Remove cancels and forgets a session stream.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	reg, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok {
		reg.publisher.Cancel()
	}
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
