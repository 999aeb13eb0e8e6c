package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/armatrix/toolhost/catalog"
)

const defaultOpenAITimeout = 120 * time.Second

// OpenAIClient adapts any OpenAI-compatible chat completions API to
// CompletionClient.
type OpenAIClient struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey string
	// APIBase defaults to the public OpenAI endpoint; point it at any
	// compatible server.
	APIBase    string
	HTTPClient *http.Client
}

// NewOpenAIClient builds an adapter for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultOpenAITimeout}
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		client:  cfg.HTTPClient,
	}
}

type oaiRequest struct {
	Model       string            `json:"model"`
	Messages    []oaiMessage      `json:"messages"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function oaiToolCallFn `json:"function"`
}

type oaiToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Complete posts a chat completion request and normalizes the response.
func (c *OpenAIClient) Complete(ctx context.Context, cfg Config, messages []Message, tools []catalog.Descriptor) (*Completion, error) {
	msgs := make([]oaiMessage, 0, len(messages)+1)
	if cfg.System != "" {
		msgs = append(msgs, oaiMessage{Role: "system", Content: cfg.System})
	}
	for _, m := range messages {
		om := oaiMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
			if m.IsError {
				om.Content = "error: " + m.Content
			}
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, oaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaiToolCallFn{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		msgs = append(msgs, om)
	}

	body := oaiRequest{
		Model:    cfg.Model,
		Messages: msgs,
	}
	if cfg.MaxTokens > 0 {
		body.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		body.Temperature = &cfg.Temperature
	}
	if len(tools) > 0 {
		formatted, err := catalog.FormatFor(catalog.ProviderOpenAI, tools)
		if err != nil {
			return nil, err
		}
		body.Tools = formatted
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("openai: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai: %d: %s", resp.StatusCode, string(respBody))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return &Completion{StopReason: StopEndTurn}, nil
	}

	choice := oaiResp.Choices[0]
	comp := &Completion{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai: decode arguments for %s: %w", tc.Function.Name, err)
			}
		}
		comp.ToolCalls = append(comp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	switch {
	case len(comp.ToolCalls) > 0, choice.FinishReason == "tool_calls":
		comp.StopReason = StopToolUse
	case choice.FinishReason == "length":
		comp.StopReason = StopMaxTokens
	default:
		comp.StopReason = StopEndTurn
	}
	return comp, nil
}
