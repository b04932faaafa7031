package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

// CreateCard inserts a new card.
func (s *SQLiteStorage) CreateCard(ctx context.Context, card *types.Card) error {
	if card.ID == "" || card.Type == "" {
		return fmt.Errorf("card id and type are required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO cards (id, card_type) VALUES (?, ?)`, card.ID, card.Type)
	return wrapDBErrorf(err, "create card %s", card.ID)
}

// GetCard returns a card by id.
func (s *SQLiteStorage) GetCard(ctx context.Context, id string) (*types.Card, error) {
	var c types.Card
	err := s.db.QueryRowContext(ctx, `SELECT id, card_type FROM cards WHERE id = ?`, id).Scan(&c.ID, &c.Type)
	if err != nil {
		return nil, wrapDBErrorf(err, "card %s", id)
	}
	return &c, nil
}

// SetCardType changes the type of a card and returns the previous type.
func (s *SQLiteStorage) SetCardType(ctx context.Context, id, cardType string) (string, error) {
	var old string
	err := s.withTx(ctx, func(conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, `SELECT card_type FROM cards WHERE id = ?`, id).Scan(&old); err != nil {
			return wrapDBErrorf(err, "card %s", id)
		}
		_, err := conn.ExecContext(ctx, `UPDATE cards SET card_type = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, cardType, id)
		return wrapDBErrorf(err, "set type of card %s", id)
	})
	return old, err
}

// ListCards returns cards sorted by id.
func (s *SQLiteStorage) ListCards(ctx context.Context, filter storage.CardFilter) ([]*types.Card, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Type != "" {
		where = append(where, "card_type = ?")
		args = append(args, filter.Type)
	}
	query := `SELECT id, card_type FROM cards`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list cards", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Card
	for rows.Next() {
		var c types.Card
		if err := rows.Scan(&c.ID, &c.Type); err != nil {
			return nil, wrapDBError("scan card", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// GetProperty returns a property value and whether it is set.
func (s *SQLiteStorage) GetProperty(ctx context.Context, cardID, name string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM card_properties WHERE card_id = ? AND name = ?`, cardID, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapDBErrorf(err, "get %s of %s", name, cardID)
	}
	return v, true, nil
}

// GetProperties returns every set property of a card.
func (s *SQLiteStorage) GetProperties(ctx context.Context, cardID string) (map[string]string, error) {
	if _, err := s.GetCard(ctx, cardID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM card_properties WHERE card_id = ?`, cardID)
	if err != nil {
		return nil, wrapDBErrorf(err, "properties of %s", cardID)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrapDBError("scan property", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ApplyProperties writes a batch in one transaction. A Set requires the
// property to be defined for the card's type; clears are always allowed.
func (s *SQLiteStorage) ApplyProperties(ctx context.Context, writes []types.PropertyWrite) error {
	if len(writes) == 0 {
		return nil
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		typeOf := make(map[string]string)
		for _, w := range writes {
			cardType, ok := typeOf[w.CardID]
			if !ok {
				err := conn.QueryRowContext(ctx, `SELECT card_type FROM cards WHERE id = ?`, w.CardID).Scan(&cardType)
				if err != nil {
					return wrapDBErrorf(err, "write %s: card %s", w.Property, w.CardID)
				}
				typeOf[w.CardID] = cardType
			}

			if w.Value == nil {
				if _, err := conn.ExecContext(ctx, `DELETE FROM card_properties WHERE card_id = ? AND name = ?`, w.CardID, w.Property); err != nil {
					return wrapDBErrorf(err, "clear %s of %s", w.Property, w.CardID)
				}
				continue
			}

			var defined bool
			err := conn.QueryRowContext(ctx, `
				SELECT COUNT(*) > 0 FROM property_def_types WHERE name = ? AND card_type = ?
			`, w.Property, cardType).Scan(&defined)
			if err != nil {
				return wrapDBErrorf(err, "check definition of %s", w.Property)
			}
			if !defined {
				return fmt.Errorf("write %s on %s: property is not defined for %s: %w", w.Property, w.CardID, cardType, types.ErrValidation)
			}
			_, err = conn.ExecContext(ctx, `
				INSERT INTO card_properties (card_id, name, value) VALUES (?, ?, ?)
				ON CONFLICT (card_id, name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
			`, w.CardID, w.Property, *w.Value)
			if err != nil {
				return wrapDBErrorf(err, "set %s of %s", w.Property, w.CardID)
			}
		}
		return nil
	})
}

// DefineProperty creates or replaces a property definition.
func (s *SQLiteStorage) DefineProperty(ctx context.Context, def types.PropertyDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("property name is required")
	}
	kind := def.Kind
	if kind == "" {
		kind = types.PropertyUser
	}
	return s.withTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO property_defs (name, kind) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET kind = excluded.kind
		`, def.Name, string(kind))
		if err != nil {
			return wrapDBErrorf(err, "define property %s", def.Name)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM property_def_types WHERE name = ?`, def.Name); err != nil {
			return wrapDBErrorf(err, "reset card types of %s", def.Name)
		}
		for _, t := range def.CardTypes {
			if _, err := conn.ExecContext(ctx, `INSERT OR IGNORE INTO property_def_types (name, card_type) VALUES (?, ?)`, def.Name, t); err != nil {
				return wrapDBErrorf(err, "define %s on %s", def.Name, t)
			}
		}
		return nil
	})
}

// DropProperty deletes the definition and every stored value.
func (s *SQLiteStorage) DropProperty(ctx context.Context, name string) error {
	return s.withTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM card_properties WHERE name = ?`, name); err != nil {
			return wrapDBErrorf(err, "drop values of %s", name)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM property_defs WHERE name = ?`, name); err != nil {
			return wrapDBErrorf(err, "drop property %s", name)
		}
		return nil
	})
}

// PropertyDefined reports whether name is defined for cardType.
func (s *SQLiteStorage) PropertyDefined(ctx context.Context, cardType, name string) (bool, error) {
	var defined bool
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0 FROM property_def_types WHERE name = ? AND card_type = ?
	`, name, cardType).Scan(&defined)
	if err != nil {
		return false, wrapDBErrorf(err, "check definition of %s", name)
	}
	return defined, nil
}

// LookupProperty returns the definition of name, or nil when it is not
// defined.
func (s *SQLiteStorage) LookupProperty(ctx context.Context, name string) (*types.PropertyDefinition, error) {
	var kind string
	err := s.db.QueryRowContext(ctx, `SELECT kind FROM property_defs WHERE name = ?`, name).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErrorf(err, "look up property %s", name)
	}
	def := &types.PropertyDefinition{Name: name, Kind: types.PropertyKind(kind), CardTypes: []string{}}
	rows, err := s.db.QueryContext(ctx, `SELECT card_type FROM property_def_types WHERE name = ? ORDER BY card_type`, name)
	if err != nil {
		return nil, wrapDBErrorf(err, "card types of %s", name)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, wrapDBError("scan card type", err)
		}
		def.CardTypes = append(def.CardTypes, t)
	}
	return def, rows.Err()
}

// ListPropertyDefinitions returns every definition sorted by name.
func (s *SQLiteStorage) ListPropertyDefinitions(ctx context.Context) ([]*types.PropertyDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.name, d.kind, COALESCE(t.card_type, '')
		FROM property_defs d
		LEFT JOIN property_def_types t ON t.name = d.name
		ORDER BY d.name, t.card_type
	`)
	if err != nil {
		return nil, wrapDBError("list property definitions", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		out  []*types.PropertyDefinition
		last *types.PropertyDefinition
	)
	for rows.Next() {
		var name, kind, cardType string
		if err := rows.Scan(&name, &kind, &cardType); err != nil {
			return nil, wrapDBError("scan property definition", err)
		}
		if last == nil || last.Name != name {
			last = &types.PropertyDefinition{Name: name, Kind: types.PropertyKind(kind), CardTypes: []string{}}
			out = append(out, last)
		}
		if cardType != "" {
			last.CardTypes = append(last.CardTypes, cardType)
		}
	}
	return out, rows.Err()
}
