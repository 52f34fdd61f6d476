package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Ledger using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batch_events (
	id         TEXT PRIMARY KEY,
	batch_id   TEXT NOT NULL,
	input_file TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	requests   INTEGER NOT NULL DEFAULT 0,
	detail     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_batch_events_batch_id ON batch_events(batch_id);
CREATE INDEX IF NOT EXISTS idx_batch_events_input_file ON batch_events(input_file);
CREATE INDEX IF NOT EXISTS idx_batch_events_created_at ON batch_events(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, ev Event) (*Event, error) {
	ev = prepareEvent(ev)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_events (id, batch_id, input_file, kind, requests, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.BatchID, ev.InputFile, string(ev.Kind), ev.Requests, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert event for batch %s", ev.BatchID)
	}
	return &ev, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := `SELECT id, batch_id, input_file, kind, requests, detail, created_at FROM batch_events WHERE 1=1`
	var args []any

	if filter.BatchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, filter.BatchID)
	}
	if filter.InputFile != "" {
		query += ` AND input_file = ?`
		args = append(args, filter.InputFile)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOf(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// scannable abstracts *sql.Row, *sql.Rows and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (Event, error) {
	var ev Event
	var kind string
	if err := row.Scan(&ev.ID, &ev.BatchID, &ev.InputFile, &kind, &ev.Requests, &ev.Detail, &ev.CreatedAt); err != nil {
		return Event{}, err
	}
	ev.Kind = EventKind(kind)
	return ev, nil
}

func prepareEvent(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return ev
}
