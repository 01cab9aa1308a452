package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(dbPath)
	require.NoError(t, err)
	defer cat.Close()

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name='runs'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordRun_GeneratesRunIDAndPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(dbPath)
	require.NoError(t, err)
	defer cat.Close()

	started := time.Now().Add(-time.Second)
	finished := time.Now()
	runID, err := cat.RecordRun(context.Background(), Run{
		SourcePath:  "in.telemetry",
		OutputPath:  "out.apxtlm",
		Dialect:     "telemetry",
		FieldCount:  3,
		EventCount:  1,
		SampleCount: 42,
		ByteSize:    1024,
		StartedAt:   started,
		FinishedAt:  finished,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	var dialect string
	var fieldCount, sampleCount int
	err = sqlQueryRow(t, dbPath, "SELECT dialect, field_count, sample_count FROM runs WHERE run_id = ?", runID).
		Scan(&dialect, &fieldCount, &sampleCount)
	require.NoError(t, err)
	assert.Equal(t, "telemetry", dialect)
	assert.Equal(t, 3, fieldCount)
	assert.Equal(t, 42, sampleCount)
}

func TestRecordRun_EmptyErrorStoresNull(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := Open(dbPath)
	require.NoError(t, err)
	defer cat.Close()

	runID, err := cat.RecordRun(context.Background(), Run{SourcePath: "a", OutputPath: "b", Dialect: "datalink"})
	require.NoError(t, err)

	var errCol sql.NullString
	err = sqlQueryRow(t, dbPath, "SELECT error FROM runs WHERE run_id = ?", runID).Scan(&errCol)
	require.NoError(t, err)
	assert.False(t, errCol.Valid)
}

func sqlQueryRow(t *testing.T, dbPath, query string, args ...interface{}) *sql.Row {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db.QueryRow(query, args...)
}
