package toolhost

import (
	"github.com/shopspring/decimal"

	"github.com/armatrix/toolhost/confirm"
	"github.com/armatrix/toolhost/internal/engine"
	"github.com/armatrix/toolhost/llm"
	"github.com/armatrix/toolhost/risk"
)

// EventType identifies the kind of event emitted by an EventStream.
type EventType string

const (
	EventState                EventType = "state"
	EventToolCall             EventType = "tool_call"
	EventToolResult           EventType = "tool_result"
	EventConfirmationRequired EventType = "confirmation_required"
	EventFinal                EventType = "final"
	EventError                EventType = "error"
)

// Event is implemented by everything emitted through an EventStream.
type Event interface {
	Type() EventType
}

// StateEvent marks a loop state transition.
type StateEvent struct {
	SessionID string       `json:"session_id"`
	State     engine.State `json:"state"`
}

func (e *StateEvent) Type() EventType { return EventState }

// ToolCallEvent announces a call the model proposed, with its assessed
// risk.
type ToolCallEvent struct {
	SessionID string       `json:"session_id"`
	Call      llm.ToolCall `json:"call"`
	Risk      risk.Level   `json:"risk"`
}

func (e *ToolCallEvent) Type() EventType { return EventToolCall }

// ToolResultEvent carries one executed call's output.
type ToolResultEvent struct {
	SessionID string       `json:"session_id"`
	Call      llm.ToolCall `json:"call"`
	Content   string       `json:"content"`
	IsError   bool         `json:"is_error"`
}

func (e *ToolResultEvent) Type() EventType { return EventToolResult }

// ConfirmationRequiredEvent announces that the loop suspended on a gated
// call. The run's stream ends after this event; resolution arrives
// through Host.ResolveConfirmation.
type ConfirmationRequiredEvent struct {
	SessionID string          `json:"session_id"`
	Request   confirm.Request `json:"request"`
}

func (e *ConfirmationRequiredEvent) Type() EventType { return EventConfirmationRequired }

// FinalEvent is the terminal answer of a completed run.
type FinalEvent struct {
	SessionID string          `json:"session_id"`
	Text      string          `json:"text"`
	Usage     llm.Usage       `json:"usage"`
	Cost      decimal.Decimal `json:"cost"`
}

func (e *FinalEvent) Type() EventType { return EventFinal }

// ErrorEvent reports a run that terminated abnormally.
type ErrorEvent struct {
	SessionID string `json:"session_id"`
	Err       error  `json:"-"`
	Message   string `json:"message"`
}

func (e *ErrorEvent) Type() EventType { return EventError }
