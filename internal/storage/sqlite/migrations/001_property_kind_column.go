package migrations

import (
	"database/sql"
	"fmt"
)

// MigratePropertyKindColumn adds the kind column to property_defs. Databases
// created before property kinds existed treat every definition as a user
// property.
func MigratePropertyKindColumn(db *sql.DB) error {
	var columnExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('property_defs')
		WHERE name = 'kind'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check kind column: %w", err)
	}

	if columnExists {
		return nil
	}

	_, err = db.Exec(`ALTER TABLE property_defs ADD COLUMN kind TEXT NOT NULL DEFAULT 'user'`)
	if err != nil {
		return fmt.Errorf("failed to add kind column: %w", err)
	}

	return nil
}
