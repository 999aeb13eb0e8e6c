package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/toolhost/internal/engine"
	"github.com/armatrix/toolhost/llm"
)

func sampleRecord(id string) *Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &Record{
		ID:    id,
		State: engine.StatePendingConfirmation,
		Messages: []llm.Message{
			llm.UserMessage("delete the old backups"),
			{Role: llm.RoleAssistant, Content: "I'll remove them now."},
		},
		Suspension: &engine.Suspension{
			SessionID:      id,
			ConfirmationID: "conf-1",
			Iteration:      2,
			PendingCall: llm.ToolCall{
				ID:        "call-1",
				Name:      "files__delete_file",
				Arguments: map[string]any{"path": "/backups/old"},
			},
			CreatedAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrNotFound)

	rec := sampleRecord("sess_a")
	require.NoError(t, store.Save(ctx, rec))

	loaded, err := store.Load(ctx, "sess_a")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, engine.StatePendingConfirmation, loaded.State)
	require.Len(t, loaded.Messages, 2)
	require.NotNil(t, loaded.Suspension)
	assert.Equal(t, "conf-1", loaded.Suspension.ConfirmationID)
	assert.Equal(t, "files__delete_file", loaded.Suspension.PendingCall.Name)

	// Mutating the loaded copy must not leak back into the store.
	loaded.Messages[0].Content = "tampered"
	again, err := store.Load(ctx, "sess_a")
	require.NoError(t, err)
	assert.Equal(t, "delete the old backups", again.Messages[0].Content)

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, store.Delete(ctx, "sess_a"))
	_, err = store.Load(ctx, "sess_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runStoreTests(t, store)
}

func TestMemoryStoreFork(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleRecord("sess_orig")))

	forked, err := store.Fork(ctx, "sess_orig")
	require.NoError(t, err)
	assert.NotEqual(t, "sess_orig", forked.ID)
	assert.Len(t, forked.Messages, 2)

	// Both the original and the fork are loadable.
	_, err = store.Load(ctx, "sess_orig")
	require.NoError(t, err)
	_, err = store.Load(ctx, forked.ID)
	require.NoError(t, err)
}

func TestFileStoreFork(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleRecord("sess_orig")))

	forked, err := store.Fork(ctx, "sess_orig")
	require.NoError(t, err)
	assert.NotEqual(t, "sess_orig", forked.ID)

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestFileStoreSanitizesIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	rec := sampleRecord("../escape")
	require.NoError(t, store.Save(context.Background(), rec))

	loaded, err := store.Load(context.Background(), "../escape")
	require.NoError(t, err)
	assert.Equal(t, "../escape", loaded.ID)
}
