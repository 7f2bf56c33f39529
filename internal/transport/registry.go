package transport

import (
	"sync"

	"github.com/google/uuid"
)

// HandlerRegistry is a thread-safe registry mapping channel names to handler
// sets. It backs the On/Off surface of every Transport implementation:
// multiple handlers may listen on the same channel, removal is keyed by
// registration ID, and removing an unknown ID is a no-op.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler // channel -> id -> handler
}

// NewHandlerRegistry creates an empty HandlerRegistry ready for use.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]map[string]Handler),
	}
}

// Add registers a handler for a channel and returns its registration ID.
func (r *HandlerRegistry) Add(channel string, h Handler) string {
	id := uuid.NewString()
	r.mu.Lock()
	set, ok := r.handlers[channel]
	if !ok {
		set = make(map[string]Handler)
		r.handlers[channel] = set
	}
	set[id] = h
	r.mu.Unlock()
	return id
}

// Remove deregisters the handler with the given ID from a channel. Removing
// an ID that was never registered, or was already removed, is harmless.
func (r *HandlerRegistry) Remove(channel string, id string) {
	r.mu.Lock()
	if set, ok := r.handlers[channel]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.handlers, channel)
		}
	}
	r.mu.Unlock()
}

// Dispatch invokes every handler registered for the channel with the given
// payload. Handlers are called outside the registry lock so they may add or
// remove registrations without deadlocking.
func (r *HandlerRegistry) Dispatch(channel string, data []byte) {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[channel]))
	for _, h := range r.handlers[channel] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}

// Count returns the number of handlers registered for a channel.
func (r *HandlerRegistry) Count(channel string) int {
	r.mu.RLock()
	n := len(r.handlers[channel])
	r.mu.RUnlock()
	return n
}
