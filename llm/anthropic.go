package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/armatrix/toolhost/catalog"
)

// messageCreator abstracts the Anthropic Messages API so the adapter can
// be tested with a mock. Production code passes the real client's
// MessageService.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient adapts the Anthropic Messages API to CompletionClient.
type AnthropicClient struct {
	svc messageCreator
}

// NewAnthropicClient builds an adapter over a fresh Anthropic client.
// The SDK reads ANTHROPIC_API_KEY from the environment; pass
// option.WithAPIKey or option.WithBaseURL to override.
func NewAnthropicClient(opts ...option.RequestOption) *AnthropicClient {
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{svc: &client.Messages}
}

// Complete sends the history and catalog to the Messages API and
// normalizes the response.
func (c *AnthropicClient) Complete(ctx context.Context, cfg Config, messages []Message, tools []catalog.Descriptor) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(cfg.MaxTokens),
		Messages:  anthropicMessages(messages),
	}
	if cfg.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: cfg.System}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(cfg.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = anthropicTools(tools)
	}

	msg, err := c.svc.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return anthropicCompletion(msg)
}

// anthropicMessages converts the neutral history to API params. Tool
// results travel as user messages carrying tool_result blocks.
func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

// anthropicTools converts catalog entries to API tool params.
func anthropicTools(tools []catalog.Descriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, d := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: param.NewOpt(catalog.Annotate(d)),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}
	return out
}

// anthropicCompletion normalizes an API message: text blocks concatenate,
// tool_use blocks become ToolCalls with decoded arguments.
func anthropicCompletion(msg *anthropic.Message) (*Completion, error) {
	comp := &Completion{
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			comp.Text += block.Text
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]any
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool_use input for %s: %w", tu.Name, err)
				}
			}
			comp.ToolCalls = append(comp.ToolCalls, ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			})
		}
	}

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		comp.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		comp.StopReason = StopMaxTokens
	default:
		comp.StopReason = StopEndTurn
	}
	return comp, nil
}
