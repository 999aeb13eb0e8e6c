package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessServerToolSchema(t *testing.T) {
	srv := newTestServer("schema")
	require.NoError(t, srv.Connect(context.Background()))

	tools := srv.Tools()
	require.Len(t, tools, 1)

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(tools[0].InputSchema, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Properties, "name")
	assert.Contains(t, schema.Required, "name")
}

func TestInProcessServerHandlerError(t *testing.T) {
	srv := NewInProcessServer("failing")
	AddTool(srv, "explode", "always fails", func(_ context.Context, _ greetInput) (string, error) {
		return "", errors.New("kaboom")
	})
	require.NoError(t, srv.Connect(context.Background()))

	// A handler error is a tool-level failure, not a transport failure.
	res, err := srv.CallTool(context.Background(), "explode", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "kaboom", res.Content)
}

func TestInProcessServerUnknownTool(t *testing.T) {
	srv := newTestServer("lookup")
	require.NoError(t, srv.Connect(context.Background()))

	_, err := srv.CallTool(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestInProcessServerLifecycle(t *testing.T) {
	srv := newTestServer("lifecycle")
	assert.False(t, srv.Ready())

	_, err := srv.CallTool(context.Background(), "greet", map[string]any{"name": "x"})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, srv.Connect(context.Background()))
	assert.True(t, srv.Ready())

	require.NoError(t, srv.Close())
	assert.False(t, srv.Ready())

	_, err = srv.ReadResource(context.Background(), "doc://x")
	assert.ErrorIs(t, err, ErrProtocol)
}
