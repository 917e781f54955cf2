package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// OpenStateDB opens an existing state database read-only so tests can
// inspect what a sweep persisted
func OpenStateDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		t.Fatalf("Failed to open state database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// CountRows returns the number of rows in table for one platform
func CountRows(t *testing.T, db *sql.DB, table, platformID string) int {
	t.Helper()
	var n int
	// table names come from the test itself, never from input
	query := "SELECT COUNT(*) FROM " + table + " WHERE platform_id = ?"
	if err := db.QueryRow(query, platformID).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s rows: %v", table, err)
	}
	return n
}
