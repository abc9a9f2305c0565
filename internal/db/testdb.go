package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB creates a fresh file-backed SQLite database with the primary
// schema applied. A file is used instead of :memory: so concurrent tests
// share one database across pooled connections.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTest(t, "orozarna.sqlite3", EnsureSchema)
}

// NewTestAuditDB creates a fresh audit database.
func NewTestAuditDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTest(t, "audit.sqlite3", EnsureAuditSchema)
}

func openTest(t *testing.T, name string, ensure func(*sql.DB) error) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := ensure(db); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
