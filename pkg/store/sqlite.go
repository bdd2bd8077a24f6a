package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/covenantlabs/covenant/pkg/audit"
)

// SQLiteEventStore persists audit events in SQLite. Suitable for
// single-node deployments and tests.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore migrates the schema and returns the store.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (or creates) the database at path and returns a
// migrated store.
func OpenSQLite(path string) (*SQLiteEventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}
	return NewSQLiteEventStore(db)
}

func (s *SQLiteEventStore) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		principal TEXT NOT NULL,
		digest TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		timestamp DATETIME NOT NULL,
		detail JSON,
		prev_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_principal ON audit_events (principal, seq);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, e audit.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("store: encode detail: %w", err)
	}
	const query = `
	INSERT INTO audit_events (id, seq, type, principal, digest, amount, timestamp, detail, prev_hash, hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Seq, string(e.Type), e.Principal, e.Digest, e.Amount,
		e.Timestamp.UTC().Format(time.RFC3339Nano), string(detail), e.PrevHash, e.Hash)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, principal string, limit int) ([]audit.Event, error) {
	const base = `
	SELECT id, seq, type, principal, digest, amount, timestamp, detail, prev_hash, hash
	FROM audit_events`

	var rows *sql.Rows
	var err error
	if principal == "" {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY seq ASC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` WHERE principal = ? ORDER BY seq ASC LIMIT ?`, principal, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteEventStore) Close() error { return s.db.Close() }

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var e audit.Event
	var typ, ts, detail string
	if err := rows.Scan(&e.ID, &e.Seq, &typ, &e.Principal, &e.Digest, &e.Amount, &ts, &detail, &e.PrevHash, &e.Hash); err != nil {
		return audit.Event{}, fmt.Errorf("store: scan event: %w", err)
	}
	e.Type = audit.EventType(typ)
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return audit.Event{}, fmt.Errorf("store: parse timestamp: %w", err)
	}
	e.Timestamp = t
	if detail != "" && detail != "null" {
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return audit.Event{}, fmt.Errorf("store: decode detail: %w", err)
		}
	}
	return e, nil
}
