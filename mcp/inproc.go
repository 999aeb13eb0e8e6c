package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/armatrix/toolhost/internal/schema"
)

// InProcessServer is a tool server that runs inside the host process and
// wraps plain Go functions as tools. No subprocess, no JSON-RPC framing,
// no transport overhead. It satisfies Transport so the Manager treats it
// like any external server: its tools are namespaced, risk-classified,
// and confirmation-gated the same way.
//
// Usage:
//
//	srv := mcp.NewInProcessServer("local")
//	mcp.AddTool(srv, "greet", "Greet someone", func(ctx context.Context, input GreetInput) (string, error) {
//	    return "Hello, " + input.Name, nil
//	})
//	host.StartInProcess(ctx, "local", srv)
type InProcessServer struct {
	name string

	mu    sync.RWMutex
	tools []inprocTool
	ready bool
}

type inprocTool struct {
	info    ToolInfo
	handler func(ctx context.Context, input json.RawMessage) (string, error)
}

// NewInProcessServer creates an empty in-process server with the given name.
func NewInProcessServer(name string) *InProcessServer {
	return &InProcessServer{name: name}
}

// Name returns the server name.
func (s *InProcessServer) Name() string { return s.name }

// AddTool registers a typed Go function as a tool. The input type T drives
// automatic JSON Schema generation from struct tags.
func AddTool[T any](s *InProcessServer, name, description string, handler func(ctx context.Context, input T) (string, error)) {
	raw, err := schema.GenerateJSON[T]()
	if err != nil {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append(s.tools, inprocTool{
		info: ToolInfo{
			Name:        name,
			Description: description,
			InputSchema: raw,
		},
		handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var v T
			if len(input) > 0 {
				if err := json.Unmarshal(input, &v); err != nil {
					return "", fmt.Errorf("invalid input: %w", err)
				}
			}
			return handler(ctx, v)
		},
	})
}

// Connect marks the server ready. There is nothing to spawn or handshake.
func (s *InProcessServer) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	return nil
}

// Tools returns the registered tool catalog.
func (s *InProcessServer) Tools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.info
	}
	return out
}

// Resources returns nil; in-process servers expose tools only.
func (s *InProcessServer) Resources() []Resource { return nil }

// Prompts returns nil; in-process servers expose tools only.
func (s *InProcessServer) Prompts() []Prompt { return nil }

// CallTool invokes the named tool. Handler errors come back as Go errors;
// the caller decides whether to surface them as error results.
func (s *InProcessServer) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	s.mu.RLock()
	if !s.ready {
		s.mu.RUnlock()
		return nil, ErrNotConnected
	}
	var handler func(context.Context, json.RawMessage) (string, error)
	for _, t := range s.tools {
		if t.info.Name == name {
			handler = t.handler
			break
		}
	}
	s.mu.RUnlock()

	if handler == nil {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	text, err := handler(ctx, raw)
	if err != nil {
		return &ToolCallResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolCallResult{Content: text}, nil
}

// ReadResource always fails; in-process servers expose tools only.
func (s *InProcessServer) ReadResource(ctx context.Context, uri string) (string, error) {
	return "", fmt.Errorf("%w: in-process server has no resources", ErrProtocol)
}

// Ready reports whether Connect has run and Close has not.
func (s *InProcessServer) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Close marks the server stopped.
func (s *InProcessServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	return nil
}
