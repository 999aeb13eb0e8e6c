// Package session provides persistence backends for conversation
// records: message history plus, for a run parked at a confirmation
// gate, the serialized suspension.
//
// Available stores:
//   - [MemoryStore] keeps records in memory (useful for testing).
//   - [FileStore] persists records as JSON files on disk.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/armatrix/toolhost/catalog"
	"github.com/armatrix/toolhost/internal/engine"
	"github.com/armatrix/toolhost/llm"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("session: not found")

// Record is the persisted form of one conversation. Everything in it is
// plain data; a suspended run carries no goroutine, only its Suspension.
type Record struct {
	ID         string             `json:"id"`
	State      engine.State       `json:"state"`
	Messages   []llm.Message      `json:"messages"`
	Suspension *engine.Suspension `json:"suspension,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Clone returns a deep copy with a fresh id, for branching a
// conversation from an existing transcript.
func (r *Record) Clone() *Record {
	c := copyRecord(r)
	c.ID = "sess_" + uuid.NewString()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	return c
}

// Store persists conversation records keyed by session id.
type Store interface {
	// Save writes or overwrites a record.
	Save(ctx context.Context, rec *Record) error

	// Load retrieves a record by id. Returns ErrNotFound when absent.
	Load(ctx context.Context, id string) (*Record, error)

	// Delete removes a record by id. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// List returns every stored record.
	List(ctx context.Context) ([]*Record, error)
}

// copyRecord deep-copies a record so callers and the store never share
// mutable slices.
func copyRecord(r *Record) *Record {
	out := *r
	out.Messages = make([]llm.Message, len(r.Messages))
	copy(out.Messages, r.Messages)
	if r.Suspension != nil {
		s := *r.Suspension
		s.Messages = append([]llm.Message(nil), r.Suspension.Messages...)
		s.QueuedCalls = append([]llm.ToolCall(nil), r.Suspension.QueuedCalls...)
		s.Catalog = append([]catalog.Descriptor(nil), r.Suspension.Catalog...)
		out.Suspension = &s
	}
	return &out
}
