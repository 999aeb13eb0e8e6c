// Package audit records the confirmation and tool-call trail: every
// request created, every resolution, every execution, in order.
package audit

import (
	"sync"
	"time"
)

// Event names the kind of trail entry.
type Event string

const (
	EventCreated  Event = "created"
	EventApproved Event = "approved"
	EventRejected Event = "rejected"
	EventExpired  Event = "expired"
	EventExecuted Event = "executed"
)

// Entry is one line of the audit trail.
type Entry struct {
	Time      time.Time `json:"time"`
	Event     Event     `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Risk      string    `json:"risk,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink receives audit entries. Record must be safe for concurrent use
// and should not block; a sink that cannot keep up drops entries rather
// than stalling the confirmation path.
type Sink interface {
	Record(e Entry)
}

// MemorySink keeps entries in memory, for tests and for hosts that do
// not configure persistence.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the entry.
func (s *MemorySink) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// Entries returns a copy of the recorded trail in append order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Record(Entry) {}
