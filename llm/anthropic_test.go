package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/toolhost/catalog"
)

// fakeMessages returns a canned API message and records the params it saw.
type fakeMessages struct {
	params anthropic.MessageNewParams
	resp   string
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(f.resp), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func TestAnthropicCompleteToolUse(t *testing.T) {
	fake := &fakeMessages{resp: `{
		"role": "assistant",
		"content": [
			{"type": "text", "text": "Deleting it now."},
			{"type": "tool_use", "id": "toolu_1", "name": "files__delete_file", "input": {"path": "/tmp/x"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 42, "output_tokens": 7}
	}`}
	client := &AnthropicClient{svc: fake}

	tools := []catalog.Descriptor{{
		Name:        "files__delete_file",
		Server:      "files",
		Tool:        "delete_file",
		Description: "Delete a file",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}}
	messages := []Message{UserMessage("delete /tmp/x")}

	comp, err := client.Complete(context.Background(), Config{Model: "claude-sonnet-4-5", MaxTokens: 1024}, messages, tools)
	require.NoError(t, err)

	assert.Equal(t, "Deleting it now.", comp.Text)
	assert.Equal(t, StopToolUse, comp.StopReason)
	require.Len(t, comp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", comp.ToolCalls[0].ID)
	assert.Equal(t, "files__delete_file", comp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "/tmp/x"}, comp.ToolCalls[0].Arguments)
	assert.Equal(t, int64(42), comp.Usage.InputTokens)
	assert.Equal(t, int64(7), comp.Usage.OutputTokens)

	// The catalog went out as tool params with annotated descriptions.
	require.Len(t, fake.params.Tools, 1)
	tool := fake.params.Tools[0].OfTool
	require.NotNil(t, tool)
	assert.Equal(t, "files__delete_file", tool.Name)
	assert.Equal(t, "[files] Delete a file", tool.Description.Value)
	assert.Contains(t, tool.InputSchema.Properties, "path")
	assert.Equal(t, []string{"path"}, tool.InputSchema.Required)
}

func TestAnthropicCompleteEndTurn(t *testing.T) {
	fake := &fakeMessages{resp: `{
		"role": "assistant",
		"content": [{"type": "text", "text": "All done."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 3}
	}`}
	client := &AnthropicClient{svc: fake}

	comp, err := client.Complete(context.Background(), Config{Model: "claude-sonnet-4-5", MaxTokens: 1024},
		[]Message{UserMessage("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "All done.", comp.Text)
	assert.Equal(t, StopEndTurn, comp.StopReason)
	assert.Empty(t, comp.ToolCalls)
	assert.Empty(t, fake.params.Tools)
}

func TestAnthropicMessagesRoundTrip(t *testing.T) {
	call := ToolCall{ID: "toolu_1", Name: "web__search", Arguments: map[string]any{"q": "go"}}
	history := []Message{
		UserMessage("search for go"),
		{Role: RoleAssistant, Content: "Searching.", ToolCalls: []ToolCall{call}},
		ToolResultMessage(call, "results...", false),
	}

	params := anthropicMessages(history)
	require.Len(t, params, 3)

	assert.Equal(t, anthropic.MessageParamRoleUser, params[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, params[1].Role)
	// Assistant message carries both the text and the tool_use block.
	require.Len(t, params[1].Content, 2)
	// Tool results travel as a user message.
	assert.Equal(t, anthropic.MessageParamRoleUser, params[2].Role)
}
