// Package llm defines the provider-neutral completion surface the
// reasoning loop drives, plus adapters for Anthropic and
// OpenAI-compatible APIs. Messages are plain data so a suspended
// session's history can be persisted and resumed.
package llm

import (
	"context"

	"github.com/armatrix/toolhost/catalog"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool execution result back to the model.
	RoleTool Role = "tool"
)

// ToolCall is one invocation the model proposed, with the namespaced
// catalog name and decoded arguments.
type ToolCall struct {
	// ID is the provider's call id, echoed back in the result message.
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is one entry in a session's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls is set on assistant messages that proposed invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID ties a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is the namespaced name of the tool that produced a
	// RoleTool message.
	ToolName string `json:"tool_name,omitempty"`
	// IsError marks a RoleTool message as a failed execution.
	IsError bool `json:"is_error,omitempty"`
}

// UserMessage builds a plain user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// ToolResultMessage builds the message carrying a tool's output back to
// the model.
func ToolResultMessage(call ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
	}
}

// StopReason says why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage counts the tokens one completion consumed.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates another completion's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Completion is one normalized model response: assistant text plus zero
// or more proposed tool calls.
type Completion struct {
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// Config selects the model for one completion call.
type Config struct {
	Model       string  `yaml:"model" json:"model"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	System      string  `yaml:"system" json:"system,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature,omitempty"`
}

// CompletionClient is the injected LLM-call capability. Implementations
// format the catalog for their provider's wire shape and normalize the
// response into a Completion.
type CompletionClient interface {
	Complete(ctx context.Context, cfg Config, messages []Message, tools []catalog.Descriptor) (*Completion, error)
}
