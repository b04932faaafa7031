package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/arborhq/arbor/internal/storage/sqlite/migrations"
)

// Migration is one idempotent schema upgrade.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList runs in order on every open. Each migration checks whether
// it already applied.
var migrationsList = []Migration{
	{"property_kind_column", migrations.MigratePropertyKindColumn},
	{"tree_indexes", migrations.MigrateTreeIndexes},
	{"dirty_marks_table", migrations.MigrateDirtyMarksTable},
}

// MigrationNames returns the registered migrations in run order.
func MigrationNames() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.Name
	}
	return names
}

// RunMigrations brings an existing database up to the current schema.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}
