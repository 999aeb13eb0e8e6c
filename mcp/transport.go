package mcp

import (
	"context"
	"encoding/json"
)

// ToolInfo describes a tool discovered from an MCP server, as reported by
// tools/list.
type ToolInfo struct {
	// Name is the tool's bare name as reported by the server.
	Name string `json:"name"`

	// Description is a human-readable description of the tool.
	Description string `json:"description"`

	// InputSchema is the raw JSON Schema for the tool's input.
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Prompt describes a prompt template exposed by a server via prompts/list.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolCallResult is the decoded result of a tools/call invocation.
type ToolCallResult struct {
	// Content is the concatenated text content of the result.
	Content string

	// IsError indicates the tool itself reported a failure. The call
	// still completed at the protocol level.
	IsError bool
}

// Transport is the interface for communicating with a single MCP server.
// Implementations own the underlying connection (subprocess pipes or the
// SSE stream) and cache the server's catalog at (re)initialization.
type Transport interface {
	// Connect establishes the connection and performs the MCP handshake:
	// initialize, notifications/initialized, then tools/list,
	// resources/list, and prompts/list, caching the results.
	Connect(ctx context.Context) error

	// Tools returns the catalog cached at the most recent handshake.
	// The cache is deliberately stale-tolerant: a server's schema is
	// assumed stable for its connection lifetime.
	Tools() []ToolInfo

	// Resources returns the resources cached at the most recent handshake.
	Resources() []Resource

	// Prompts returns the prompts cached at the most recent handshake.
	Prompts() []Prompt

	// CallTool invokes a tool by bare name with the given arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error)

	// ReadResource reads a resource by URI from the server.
	ReadResource(ctx context.Context, uri string) (string, error)

	// Ready reports whether the transport can currently serve calls.
	Ready() bool

	// Close tears down the connection, failing all outstanding calls with
	// ErrSessionClosed, and releases resources.
	Close() error
}

// NewTransport creates a Transport for the given ServerConfig based on its
// Transport type. Returns ErrInvalidConfig if the config is not valid.
func NewTransport(cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return NewStdioTransport(cfg)
	case TransportSSE:
		return NewSSETransport(cfg)
	default:
		if cfg.Command != "" {
			return NewStdioTransport(cfg)
		}
		if cfg.URL != "" {
			return NewSSETransport(cfg)
		}
		return nil, ErrInvalidConfig
	}
}
