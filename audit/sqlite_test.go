package audit

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupSink(t *testing.T) *SQLiteSink {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink, err := NewSQLiteSink(db, nil)
	require.NoError(t, err)
	return sink
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink := setupSink(t)

	created := Entry{
		Time:      time.Now(),
		Event:     EventCreated,
		SessionID: "sess-1",
		RequestID: "req-1",
		Tool:      "files__delete_file",
		Risk:      "CRITICAL",
	}
	sink.Record(created)
	sink.Record(Entry{
		Time:      time.Now(),
		Event:     EventApproved,
		SessionID: "sess-1",
		RequestID: "req-1",
		Tool:      "files__delete_file",
	})

	entries, err := sink.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, EventApproved, entries[0].Event)
	assert.Equal(t, EventCreated, entries[1].Event)
	assert.Equal(t, "files__delete_file", entries[1].Tool)
	assert.Equal(t, "CRITICAL", entries[1].Risk)
	assert.WithinDuration(t, created.Time, entries[1].Time, time.Second)
}

func TestSQLiteSinkRecentLimit(t *testing.T) {
	sink := setupSink(t)
	for i := 0; i < 5; i++ {
		sink.Record(Entry{Time: time.Now(), Event: EventExecuted, Tool: "web__search"})
	}
	entries, err := sink.Recent(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	sink.Record(Entry{Event: EventCreated})
	sink.Record(Entry{Event: EventRejected})

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EventCreated, entries[0].Event)

	// Returned slice is a copy.
	entries[0].Event = EventExpired
	assert.Equal(t, EventCreated, sink.Entries()[0].Event)
}
