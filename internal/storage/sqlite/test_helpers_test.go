package sqlite

import (
	"context"
	"testing"
)

// newTestStore creates a SQLiteStorage in a temp directory.
//
// File-based databases are used instead of ":memory:" because the shared
// in-memory database is visible to every test in the process.
func newTestStore(t *testing.T, dbPath string) *SQLiteStorage {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	store, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})

	return store
}
