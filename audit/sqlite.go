package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteSink persists the audit trail to SQLite. The caller owns the
// database handle and must have registered a driver (the host uses
// modernc.org/sqlite). Record never returns an error; write failures are
// logged and the entry is dropped, since the confirmation path must not
// stall on the trail.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSink creates the audit table if needed and returns a sink
// writing to db.
func NewSQLiteSink(db *sql.DB, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		time       TEXT NOT NULL,
		event      TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		tool       TEXT NOT NULL DEFAULT '',
		risk       TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate audit_log: %w", err)
	}
	return &SQLiteSink{db: db, logger: logger}, nil
}

// Record writes one entry.
func (s *SQLiteSink) Record(e Entry) {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (time, event, session_id, request_id, tool, risk, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano),
		string(e.Event), e.SessionID, e.RequestID, e.Tool, e.Risk, e.Detail,
	)
	if err != nil {
		s.logger.Warn("audit write failed", "event", e.Event, "err", err)
	}
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteSink) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT time, event, session_id, request_id, tool, risk, detail
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, event string
		if err := rows.Scan(&ts, &event, &e.SessionID, &e.RequestID, &e.Tool, &e.Risk, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit_log: %w", err)
		}
		e.Event = Event(event)
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
