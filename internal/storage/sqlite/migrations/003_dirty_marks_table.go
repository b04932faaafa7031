package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateDirtyMarksTable creates the dirty_marks table on databases created
// before aggregate work was persisted.
func MigrateDirtyMarksTable(db *sql.DB) error {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'dirty_marks'
	`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check dirty_marks table: %w", err)
	}
	if exists {
		return nil
	}

	_, err = db.Exec(`
		CREATE TABLE dirty_marks (
			tree_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			card_id TEXT NOT NULL DEFAULT '',
			marked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tree_id, kind, card_id),
			FOREIGN KEY (tree_id) REFERENCES tree_schemas(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create dirty_marks table: %w", err)
	}
	return nil
}
