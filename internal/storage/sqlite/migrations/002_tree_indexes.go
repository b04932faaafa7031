package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateTreeIndexes adds indexes used when loading trees.
//
// Indexes added:
//   - idx_tree_edges_tree_rank: edges of one tree in sibling order
//   - idx_tree_edges_parent: children lookups
//   - idx_property_def_types_type: definitions of one card type
func MigrateTreeIndexes(db *sql.DB) error {
	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "idx_tree_edges_tree_rank",
			sql:  `CREATE INDEX IF NOT EXISTS idx_tree_edges_tree_rank ON tree_edges(tree_id, rank)`,
		},
		{
			name: "idx_tree_edges_parent",
			sql:  `CREATE INDEX IF NOT EXISTS idx_tree_edges_parent ON tree_edges(tree_id, parent_id)`,
		},
		{
			name: "idx_property_def_types_type",
			sql:  `CREATE INDEX IF NOT EXISTS idx_property_def_types_type ON property_def_types(card_type, name)`,
		},
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx.sql); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}
