package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/covenantlabs/covenant/pkg/audit"
)

// PostgresEventStore persists audit events in Postgres for multi-node
// server deployments.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore migrates the schema and returns the store.
func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects with a connection string and returns a migrated
// store.
func OpenPostgres(dsn string) (*PostgresEventStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return NewPostgresEventStore(db)
}

func (s *PostgresEventStore) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		seq BIGINT NOT NULL,
		type TEXT NOT NULL,
		principal TEXT NOT NULL,
		digest TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL DEFAULT 0,
		timestamp TIMESTAMPTZ NOT NULL,
		detail JSONB,
		prev_hash TEXT NOT NULL DEFAULT '',
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_principal ON audit_events (principal, seq);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresEventStore) AppendEvent(ctx context.Context, e audit.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("store: encode detail: %w", err)
	}
	const query = `
	INSERT INTO audit_events (id, seq, type, principal, digest, amount, timestamp, detail, prev_hash, hash)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Seq, string(e.Type), e.Principal, e.Digest, e.Amount,
		e.Timestamp.UTC(), string(detail), e.PrevHash, e.Hash)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) ListEvents(ctx context.Context, principal string, limit int) ([]audit.Event, error) {
	const base = `
	SELECT id, seq, type, principal, digest, amount, timestamp, detail, prev_hash, hash
	FROM audit_events`

	var rows *sql.Rows
	var err error
	if principal == "" {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY seq ASC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` WHERE principal = $1 ORDER BY seq ASC LIMIT $2`, principal, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var typ, detail string
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.Seq, &typ, &e.Principal, &e.Digest, &e.Amount, &ts, &detail, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Type = audit.EventType(typ)
		e.Timestamp = ts.UTC()
		if detail != "" && detail != "null" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("store: decode detail: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (s *PostgresEventStore) Close() error { return s.db.Close() }
