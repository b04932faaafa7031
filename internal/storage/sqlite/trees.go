package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

// LoadTrees reads every persisted tree with its levels, edges (in rank
// order), aggregate definitions and pending dirty marks.
func (s *SQLiteStorage) LoadTrees(ctx context.Context) ([]*storage.TreeState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, version FROM tree_schemas ORDER BY name`)
	if err != nil {
		return nil, wrapDBError("load trees", err)
	}
	var states []*storage.TreeState
	byID := make(map[string]*storage.TreeState)
	for rows.Next() {
		sch := &types.TreeSchema{}
		if err := rows.Scan(&sch.ID, &sch.Name, &sch.Version); err != nil {
			_ = rows.Close()
			return nil, wrapDBError("scan tree", err)
		}
		st := &storage.TreeState{Schema: sch}
		states = append(states, st)
		byID[sch.ID] = st
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapDBError("load trees", err)
	}
	_ = rows.Close()

	if err := s.loadLevels(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadEdges(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadAggregates(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.loadDirty(ctx, byID); err != nil {
		return nil, err
	}
	return states, nil
}

func (s *SQLiteStorage) loadLevels(ctx context.Context, byID map[string]*storage.TreeState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tree_id, card_type, relationship_property FROM tree_levels ORDER BY tree_id, position
	`)
	if err != nil {
		return wrapDBError("load tree levels", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var treeID string
		var l types.Level
		if err := rows.Scan(&treeID, &l.CardType, &l.RelationshipProperty); err != nil {
			return wrapDBError("scan tree level", err)
		}
		if st, ok := byID[treeID]; ok {
			st.Schema.Levels = append(st.Schema.Levels, l)
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadEdges(ctx context.Context, byID map[string]*storage.TreeState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tree_id, card_id, parent_id, card_type, rank FROM tree_edges ORDER BY tree_id, rank
	`)
	if err != nil {
		return wrapDBError("load tree edges", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		e := &types.MembershipEdge{}
		if err := rows.Scan(&e.TreeID, &e.CardID, &e.ParentID, &e.CardType, &e.Rank); err != nil {
			return wrapDBError("scan tree edge", err)
		}
		if st, ok := byID[e.TreeID]; ok {
			st.Edges = append(st.Edges, e)
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadAggregates(ctx context.Context, byID map[string]*storage.TreeState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tree_id, name, node_type, function, source_property, scope_kind, scope_card_type
		FROM aggregate_defs ORDER BY tree_id, name
	`)
	if err != nil {
		return wrapDBError("load aggregate definitions", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		d := &types.AggregateDefinition{}
		var fn, kind string
		if err := rows.Scan(&d.ID, &d.TreeID, &d.Name, &d.NodeType, &fn, &d.SourceProperty, &kind, &d.Scope.CardType); err != nil {
			return wrapDBError("scan aggregate definition", err)
		}
		d.Function = types.AggregateFunction(fn)
		d.Scope.Kind = types.ScopeKind(kind)
		if st, ok := byID[d.TreeID]; ok {
			st.Aggregates = append(st.Aggregates, d)
		}
	}
	return rows.Err()
}

// SaveTree replaces the whole persisted state of one tree in a single
// transaction and records state.Dirty in the same transaction.
func (s *SQLiteStorage) SaveTree(ctx context.Context, state *storage.TreeState) error {
	if state == nil || state.Schema == nil {
		return fmt.Errorf("tree state without schema")
	}
	sch := state.Schema
	return s.withTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO tree_schemas (id, name, version) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, version = excluded.version, updated_at = CURRENT_TIMESTAMP
		`, sch.ID, sch.Name, sch.Version)
		if err != nil {
			return wrapDBErrorf(err, "save tree %s", sch.Name)
		}
		for _, table := range []string{"tree_levels", "tree_edges", "aggregate_defs"} {
			// #nosec G202 - table names come from the fixed list above
			if _, err := conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE tree_id = ?`, sch.ID); err != nil {
				return wrapDBErrorf(err, "reset %s of %s", table, sch.Name)
			}
		}
		for i, l := range sch.Levels {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO tree_levels (tree_id, position, card_type, relationship_property) VALUES (?, ?, ?, ?)
			`, sch.ID, i, l.CardType, l.RelationshipProperty); err != nil {
				return wrapDBErrorf(err, "save level %s of %s", l.CardType, sch.Name)
			}
		}
		if len(state.Edges) > 0 {
			stmt, err := conn.PrepareContext(ctx, `
				INSERT INTO tree_edges (tree_id, card_id, parent_id, card_type, rank) VALUES (?, ?, ?, ?, ?)
			`)
			if err != nil {
				return wrapDBError("prepare edge insert", err)
			}
			defer func() { _ = stmt.Close() }()
			for _, e := range state.Edges {
				if _, err := stmt.ExecContext(ctx, sch.ID, e.CardID, e.ParentID, e.CardType, e.Rank); err != nil {
					return wrapDBErrorf(err, "save edge %s of %s", e.CardID, sch.Name)
				}
			}
		}
		for _, d := range state.Aggregates {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO aggregate_defs (id, tree_id, name, node_type, function, source_property, scope_kind, scope_card_type)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, d.ID, sch.ID, d.Name, d.NodeType, string(d.Function), d.SourceProperty, string(d.Scope.Kind), d.Scope.CardType); err != nil {
				return wrapDBErrorf(err, "save aggregate %s of %s", d.Name, sch.Name)
			}
		}
		return insertDirty(ctx, conn, sch.ID, state.Dirty)
	})
}

// DeleteTree removes a tree; levels, edges, definitions and dirty marks
// cascade.
func (s *SQLiteStorage) DeleteTree(ctx context.Context, treeID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tree_schemas WHERE id = ?`, treeID)
	return wrapDBErrorf(err, "delete tree %s", treeID)
}
