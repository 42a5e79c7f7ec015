// Package history keeps the bounded, filterable in-memory store of
// classified messages, newest first, with synchronous fan-out to
// subscribers.
package history

import (
	"strings"
	"sync"

	"github.com/xpe-hub/xpe-bot/internal/message"
)

// DefaultCapacity bounds the history when no explicit capacity is given.
const DefaultCapacity = 500

// Subscriber receives every appended message, in append order.
type Subscriber func(message.Message)

// Filter selects messages. Zero-value fields match everything; set fields
// compose with AND semantics.
type Filter struct {
	Kind           message.Kind
	BotID          string
	SenderContains string // case-insensitive substring on sender ID
}

func (f Filter) matches(m message.Message) bool {
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.BotID != "" && m.BotID != f.BotID {
		return false
	}
	if f.SenderContains != "" && !strings.Contains(strings.ToLower(m.SenderID), strings.ToLower(f.SenderContains)) {
		return false
	}
	return true
}

// History is a bounded ring of classified messages.
type History struct {
	mu      sync.Mutex
	entries []message.Message
	head    int
	count   int
	subs    []Subscriber
}

// New creates a history holding at most capacity messages.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{entries: make([]message.Message, capacity)}
}

// Append stores a message, evicting the oldest when full, and delivers it
// to the current subscribers.
func (h *History) Append(m message.Message) {
	h.mu.Lock()
	if h.count == len(h.entries) {
		h.entries[h.head] = m
		h.head = (h.head + 1) % len(h.entries)
	} else {
		h.entries[(h.head+h.count)%len(h.entries)] = m
		h.count++
	}
	subs := make([]Subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(m)
	}
}

// Recent returns up to limit messages, newest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]message.Message, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.head + h.count - 1 - i) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

// Find returns all retained messages matching the filter, newest first.
func (h *History) Find(f Filter) []message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]message.Message, 0)
	for i := 0; i < h.count; i++ {
		idx := (h.head + h.count - 1 - i) % len(h.entries)
		if f.matches(h.entries[idx]) {
			out = append(out, h.entries[idx])
		}
	}
	return out
}

// Clear drops all retained messages.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.count = 0
}

// Subscribe registers a callback invoked synchronously on every append.
func (h *History) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

// Len reports how many messages are currently retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
