// Package journal records dispatched gateway commands in Postgres.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the journal table.
const Schema = `CREATE TABLE IF NOT EXISTS command_journal (
	command_id    TEXT        NOT NULL,
	method        TEXT        NOT NULL,
	uri           TEXT        NOT NULL,
	attribution   TEXT        NOT NULL,
	should_store  BOOLEAN     NOT NULL,
	status        TEXT        NOT NULL,
	error         TEXT,
	duration_ms   BIGINT      NOT NULL,
	dispatched_at TIMESTAMPTZ NOT NULL
)`

const insertEntry = `INSERT INTO command_journal
	(command_id, method, uri, attribution, should_store, status, error, duration_ms, dispatched_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Entry is one dispatched command and its outcome.
type Entry struct {
	CommandID    string
	Method       string
	URI          string
	Attribution  string
	ShouldStore  bool
	Status       string // response status, "error" when no response arrived
	Error        string
	Duration     time.Duration
	DispatchedAt time.Time
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal writes entries through an Execer.
type Journal struct {
	db Execer
}

// New creates a journal.
func New(db Execer) *Journal {
	return &Journal{db: db}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

// Record inserts one entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	var errText *string
	if e.Error != "" {
		errText = &e.Error
	}

	_, err := j.db.Exec(ctx, insertEntry,
		e.CommandID,
		e.Method,
		e.URI,
		e.Attribution,
		e.ShouldStore,
		e.Status,
		errText,
		e.Duration.Milliseconds(),
		e.DispatchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry %s: %w", e.CommandID, err)
	}
	return nil
}
