package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

const (
	dirtyFull     = "full"
	dirtyCard     = "card"
	dirtyDetached = "detached"
)

// MarkDirty records aggregate work for a tree in one transaction.
// It is used for changes that do not rewrite the tree state, such as a
// source property edit; structural mutations record marks via SaveTree.
func (s *SQLiteStorage) MarkDirty(ctx context.Context, treeID string, marks *storage.DirtyMarks) error {
	if marks.Empty() {
		return nil
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		err := insertDirty(ctx, conn, treeID, marks)
		if IsForeignKeyConstraintError(err) {
			return fmt.Errorf("mark tree %s dirty: %w", treeID, types.ErrNotFound)
		}
		return err
	})
}

// insertDirty upserts marks on an open transaction.
func insertDirty(ctx context.Context, conn *sql.Conn, treeID string, marks *storage.DirtyMarks) error {
	if marks.Empty() {
		return nil
	}
	stmt, err := conn.PrepareContext(ctx, `
		INSERT INTO dirty_marks (tree_id, kind, card_id, marked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tree_id, kind, card_id) DO UPDATE SET marked_at = excluded.marked_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	return eachMark(marks, func(kind, cardID string) error {
		if _, err := stmt.ExecContext(ctx, treeID, kind, cardID, now); err != nil {
			return wrapDBErrorf(err, "mark %s %s of tree %s dirty", kind, cardID, treeID)
		}
		return nil
	})
}

// ClearDirty removes exactly the given marks, leaving any recorded since
// the caller drained them.
func (s *SQLiteStorage) ClearDirty(ctx context.Context, treeID string, marks *storage.DirtyMarks) error {
	if marks.Empty() {
		return nil
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		stmt, err := conn.PrepareContext(ctx, `DELETE FROM dirty_marks WHERE tree_id = ? AND kind = ? AND card_id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		return eachMark(marks, func(kind, cardID string) error {
			if _, err := stmt.ExecContext(ctx, treeID, kind, cardID); err != nil {
				return wrapDBErrorf(err, "clear %s %s of tree %s", kind, cardID, treeID)
			}
			return nil
		})
	})
}

func (s *SQLiteStorage) loadDirty(ctx context.Context, byID map[string]*storage.TreeState) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tree_id, kind, card_id FROM dirty_marks ORDER BY tree_id, kind, card_id
	`)
	if err != nil {
		return wrapDBError("load dirty marks", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var treeID, kind, cardID string
		if err := rows.Scan(&treeID, &kind, &cardID); err != nil {
			return wrapDBError("scan dirty mark", err)
		}
		st, ok := byID[treeID]
		if !ok {
			continue
		}
		if st.Dirty == nil {
			st.Dirty = &storage.DirtyMarks{}
		}
		switch kind {
		case dirtyFull:
			st.Dirty.Full = true
		case dirtyCard:
			st.Dirty.Cards = append(st.Dirty.Cards, cardID)
		case dirtyDetached:
			st.Dirty.Detached = append(st.Dirty.Detached, cardID)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("iterate dirty marks", err)
	}
	return nil
}

func eachMark(marks *storage.DirtyMarks, fn func(kind, cardID string) error) error {
	if marks.Full {
		if err := fn(dirtyFull, ""); err != nil {
			return err
		}
	}
	for _, id := range marks.Cards {
		if err := fn(dirtyCard, id); err != nil {
			return err
		}
	}
	for _, id := range marks.Detached {
		if err := fn(dirtyDetached, id); err != nil {
			return err
		}
	}
	return nil
}
