package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `json:"name"`
}

func newTestServer(name string) *InProcessServer {
	srv := NewInProcessServer(name)
	AddTool(srv, "greet", "greets someone by name", func(_ context.Context, in greetInput) (string, error) {
		return "hello " + in.Name, nil
	})
	return srv
}

func TestManagerStartInProcessAndCall(t *testing.T) {
	m := NewManager(testLogger())
	ctx := context.Background()

	require.NoError(t, m.StartInProcess(ctx, "local", newTestServer("local")))

	res, err := m.Call(ctx, "local", "greet", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello ada", res.Content)

	sess, err := m.Session("local")
	require.NoError(t, err)
	assert.Equal(t, SessionReady, sess.State())
	require.Len(t, sess.Tools(), 1)
	assert.Equal(t, "greet", sess.Tools()[0].Name)
}

func TestManagerDuplicateKey(t *testing.T) {
	m := NewManager(testLogger())
	ctx := context.Background()

	require.NoError(t, m.StartInProcess(ctx, "dup", newTestServer("dup")))
	err := m.StartInProcess(ctx, "dup", newTestServer("dup"))
	assert.ErrorIs(t, err, ErrServerExists)

	err = m.Start(ctx, "dup", ServerConfig{Command: "irrelevant"})
	assert.ErrorIs(t, err, ErrServerExists)
}

func TestManagerStartInvalidConfig(t *testing.T) {
	m := NewManager(testLogger())
	err := m.Start(context.Background(), "empty", ServerConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManagerStopAndUnknownKey(t *testing.T) {
	m := NewManager(testLogger())
	ctx := context.Background()

	require.NoError(t, m.StartInProcess(ctx, "ephemeral", newTestServer("ephemeral")))
	require.NoError(t, m.Stop("ephemeral"))

	err := m.Stop("ephemeral")
	assert.ErrorIs(t, err, ErrServerNotFound)

	_, err = m.Call(ctx, "ephemeral", "greet", nil)
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestManagerReadySorted(t *testing.T) {
	m := NewManager(testLogger())
	ctx := context.Background()

	for _, key := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, m.StartInProcess(ctx, key, newTestServer(key)))
	}

	ready := m.Ready()
	require.Len(t, ready, 3)
	assert.Equal(t, "alpha", ready[0].Key)
	assert.Equal(t, "mid", ready[1].Key)
	assert.Equal(t, "zeta", ready[2].Key)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, m.Keys())
}

func TestManagerCloseStopsAll(t *testing.T) {
	m := NewManager(testLogger())
	ctx := context.Background()

	require.NoError(t, m.StartInProcess(ctx, "one", newTestServer("one")))
	require.NoError(t, m.StartInProcess(ctx, "two", newTestServer("two")))
	require.NoError(t, m.Close())
	assert.Empty(t, m.Keys())
	assert.Empty(t, m.Ready())
}
