package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// protocolVersion is the MCP revision this client speaks.
const protocolVersion = "2024-11-05"

// MCP method names used by the handshake and call paths.
const (
	methodInitialize    = "initialize"
	methodInitialized   = "notifications/initialized"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodResourcesRead = "resources/read"
	methodPromptsList   = "prompts/list"
)

// clientInfo identifies this host to the server during initialize.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

var defaultClientInfo = clientInfo{Name: "toolhost", Version: "1.0.0"}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      clientInfo     `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// catalogSnapshot holds everything cached from a handshake. It is replaced
// wholesale on reconnect and never mutated in place.
type catalogSnapshot struct {
	serverName string
	tools      []ToolInfo
	resources  []Resource
	prompts    []Prompt
}

// rpcCaller is the minimal request surface the handshake needs. Both
// transports implement it over their own framing.
type rpcCaller interface {
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	notify(ctx context.Context, method string, params any) error
}

// handshake runs the MCP initialization sequence and gathers the server's
// catalog. resources/list and prompts/list are optional server capabilities;
// a method-not-found error for either yields an empty list rather than a
// failed handshake.
func handshake(ctx context.Context, c rpcCaller) (*catalogSnapshot, error) {
	raw, err := c.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      defaultClientInfo,
		Capabilities:    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		return nil, fmt.Errorf("%w: bad initialize result: %v", ErrProtocol, err)
	}

	if err := c.notify(ctx, methodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	snap := &catalogSnapshot{serverName: init.ServerInfo.Name}

	raw, err = c.call(ctx, methodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var tl struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, fmt.Errorf("%w: bad tools/list result: %v", ErrProtocol, err)
	}
	snap.tools = tl.Tools

	raw, err = c.call(ctx, methodResourcesList, nil)
	switch {
	case err == nil:
		var rl struct {
			Resources []Resource `json:"resources"`
		}
		if err := json.Unmarshal(raw, &rl); err == nil {
			snap.resources = rl.Resources
		}
	case !isMethodNotFound(err):
		return nil, fmt.Errorf("resources/list: %w", err)
	}

	raw, err = c.call(ctx, methodPromptsList, nil)
	switch {
	case err == nil:
		var pl struct {
			Prompts []Prompt `json:"prompts"`
		}
		if err := json.Unmarshal(raw, &pl); err == nil {
			snap.prompts = pl.Prompts
		}
	case !isMethodNotFound(err):
		return nil, fmt.Errorf("prompts/list: %w", err)
	}

	return snap, nil
}

// isMethodNotFound matches JSON-RPC "method not found" failures so the
// handshake can treat optional capabilities as absent.
func isMethodNotFound(err error) bool {
	var re *rpcError
	if errors.As(err, &re) {
		return re.Code == codeMethodNotFound
	}
	// Some servers report the failure as a plain message.
	return strings.Contains(err.Error(), "method not found")
}

// toolCallParams is the params payload for tools/call.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolCallResponse mirrors the MCP tools/call result shape.
type toolCallResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// decodeToolResult converts a raw tools/call result into a ToolCallResult,
// concatenating all text content blocks.
func decodeToolResult(raw json.RawMessage) (*ToolCallResult, error) {
	var tr toolCallResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("%w: bad tools/call result: %v", ErrProtocol, err)
	}
	var sb strings.Builder
	for _, c := range tr.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return &ToolCallResult{Content: sb.String(), IsError: tr.IsError}, nil
}
