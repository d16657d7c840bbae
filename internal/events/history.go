package events

import "sync"

// History is a thread-safe ring buffer holding the last N events.
type History struct {
	mu     sync.Mutex
	events []Event
	size   int
	pos    int
	full   bool
}

// NewHistory creates a history that keeps the last n events.
func NewHistory(n int) *History {
	if n < 1 {
		n = 1
	}
	return &History{
		events: make([]Event, n),
		size:   n,
	}
}

// Post implements Notifier.
func (h *History) Post(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events[h.pos] = e
	h.pos = (h.pos + 1) % h.size
	if h.pos == 0 {
		h.full = true
	}
}

// Events returns all stored events in order, oldest first.
func (h *History) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		result := make([]Event, h.pos)
		copy(result, h.events[:h.pos])
		return result
	}

	result := make([]Event, h.size)
	copy(result, h.events[h.pos:])
	copy(result[h.size-h.pos:], h.events[:h.pos])
	return result
}

// Last returns the last n events. If fewer exist, returns all of them.
func (h *History) Last(n int) []Event {
	all := h.Events()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Kinds returns the kinds of all stored events, oldest first.
func (h *History) Kinds() []Kind {
	all := h.Events()
	out := make([]Kind, len(all))
	for i, e := range all {
		out[i] = e.Kind
	}
	return out
}

// Reset drops every stored event.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = 0
	h.full = false
	clear(h.events)
}
