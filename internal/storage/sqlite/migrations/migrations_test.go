package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openLegacyDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+t.TempDir()+"/legacy.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE property_defs (name TEXT PRIMARY KEY, created_at DATETIME)`,
		`CREATE TABLE property_def_types (name TEXT NOT NULL, card_type TEXT NOT NULL, PRIMARY KEY (name, card_type))`,
		`CREATE TABLE tree_edges (tree_id TEXT NOT NULL, card_id TEXT NOT NULL, parent_id TEXT NOT NULL DEFAULT '', card_type TEXT NOT NULL, rank INTEGER NOT NULL, PRIMARY KEY (tree_id, card_id))`,
		`INSERT INTO property_defs (name) VALUES ('Estimate')`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}
	return db
}

func TestMigratePropertyKindColumn(t *testing.T) {
	db := openLegacyDB(t)
	for i := 0; i < 2; i++ {
		if err := MigratePropertyKindColumn(db); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	var kind string
	if err := db.QueryRow(`SELECT kind FROM property_defs WHERE name = 'Estimate'`).Scan(&kind); err != nil {
		t.Fatal(err)
	}
	if kind != "user" {
		t.Errorf("kind = %q, want user", kind)
	}
}

func TestMigrateTreeIndexes(t *testing.T) {
	db := openLegacyDB(t)
	if err := MigrateTreeIndexes(db); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_tree_edges_%'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("tree edge indexes = %d, want 2", n)
	}
}

func TestMigrateDirtyMarksTable(t *testing.T) {
	db := openLegacyDB(t)
	for i := 0; i < 2; i++ {
		if err := MigrateDirtyMarksTable(db); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if _, err := db.Exec(`INSERT INTO dirty_marks (tree_id, kind, card_id) VALUES ('t1', 'card', 'R1')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}
