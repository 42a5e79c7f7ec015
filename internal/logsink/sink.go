// Package logsink keeps the panel-facing event log: an append-only,
// capacity-bounded ring of log entries with synchronous fan-out to
// subscribers.
package logsink

import (
	"sync"
	"time"
)

// Severity classifies a log entry for the panel.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is a single immutable log record.
type Entry struct {
	Sequence  int64     `json:"sequence"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives every appended entry, in append order.
type Subscriber func(Entry)

// DefaultCapacity bounds the sink when no explicit capacity is given.
const DefaultCapacity = 200

// Sink is a bounded ring buffer of log entries. Appending past capacity
// evicts the oldest entry. Sequence numbers are monotonically increasing
// for the lifetime of the sink and reflect append order.
type Sink struct {
	mu       sync.Mutex
	entries  []Entry
	head     int // index of oldest entry
	count    int
	seq      int64
	subs     []Subscriber
}

// New creates a sink holding at most capacity entries.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{entries: make([]Entry, capacity)}
}

// Append records a new entry and delivers it to the current subscribers.
// Subscribers registered while a delivery is in flight are not guaranteed
// to see that entry.
func (s *Sink) Append(severity Severity, message string) Entry {
	s.mu.Lock()
	s.seq++
	entry := Entry{
		Sequence:  s.seq,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
	}
	if s.count == len(s.entries) {
		// Full: overwrite the oldest slot.
		s.entries[s.head] = entry
		s.head = (s.head + 1) % len(s.entries)
	} else {
		s.entries[(s.head+s.count)%len(s.entries)] = entry
		s.count++
	}
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
	return entry
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Sink) Recent(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.head + s.count - 1 - i) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out
}

// Clear drops all retained entries. Sequence numbers keep counting.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = 0
	s.count = 0
}

// Subscribe registers a callback invoked synchronously on every append.
func (s *Sink) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Len reports how many entries are currently retained.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
