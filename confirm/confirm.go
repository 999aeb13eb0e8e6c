// Package confirm holds the approval-request lifecycle that gates risky
// tool calls: a pending entry per gated call, exactly-once resolution by
// a human operator, and background expiry for requests nobody answers.
package confirm

import (
	"errors"
	"time"

	"github.com/armatrix/toolhost/risk"
)

var (
	ErrNotFound        = errors.New("confirm: request not found")
	ErrAlreadyResolved = errors.New("confirm: request already resolved")
	ErrExpired         = errors.New("confirm: request expired")
)

// Status is a request's place in the pending → resolved lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Resolved reports whether the status is terminal.
func (s Status) Resolved() bool { return s != StatusPending }

// ToolCall is the proposed invocation a request gates.
type ToolCall struct {
	// CallID is the provider's id for the call, echoed back in results.
	CallID string `json:"call_id,omitempty"`
	// Name is the namespaced catalog name.
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Request is one pending or resolved confirmation. Once resolved it is
// immutable; a second resolution attempt fails.
type Request struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	Call      ToolCall   `json:"tool_call"`
	Risk      risk.Level `json:"risk_level"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	// ResolvedAt is zero while pending.
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	// ModifiedArguments replaces Call.Arguments when the approver edited
	// them. Only set on approval.
	ModifiedArguments map[string]any `json:"modified_arguments,omitempty"`
}

// EffectiveArguments returns the arguments the call should run with:
// the approver's edit when present, the original otherwise.
func (r Request) EffectiveArguments() map[string]any {
	if r.ModifiedArguments != nil {
		return r.ModifiedArguments
	}
	return r.Call.Arguments
}
