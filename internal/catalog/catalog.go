// Package catalog records one row per repack invocation in a SQLite
// database (domain-stack addition D2), using the same connection and
// schema-migration idiom as a partitioned manifest catalog but trimmed
// to a simple append-only audit log: no predicates, pruning, or
// compaction bookkeeping, since a stream-to-stream repacker has no
// partitions to track.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	source_path  TEXT NOT NULL,
	output_path  TEXT NOT NULL,
	dialect      TEXT NOT NULL,
	field_count  INTEGER NOT NULL,
	event_count  INTEGER NOT NULL,
	sample_count INTEGER NOT NULL,
	byte_size    INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL,
	error        TEXT
);`

// Run is one row of the run catalog.
type Run struct {
	RunID       string
	SourcePath  string
	OutputPath  string
	Dialect     string
	FieldCount  int
	EventCount  int
	SampleCount int
	ByteSize    int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         string
}

// Catalog is a single-writer SQLite-backed run log.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if necessary) the run catalog at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: init schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// RecordRun appends a run to the catalog, generating a run ID if r.RunID
// is empty.
func (c *Catalog) RecordRun(ctx context.Context, r Run) (string, error) {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, source_path, output_path, dialect,
			field_count, event_count, sample_count, byte_size,
			started_at, finished_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.SourcePath, r.OutputPath, r.Dialect,
		r.FieldCount, r.EventCount, r.SampleCount, r.ByteSize,
		r.StartedAt.Unix(), r.FinishedAt.Unix(), nullIfEmpty(r.Err),
	)
	if err != nil {
		return "", fmt.Errorf("catalog: insert run: %w", err)
	}
	return r.RunID, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}
