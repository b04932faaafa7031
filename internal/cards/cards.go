// Package cards defines the contract between the tree engine and the card
// store that owns card identity, type and property values.
//
// The engine never owns card data. It reads types and property values and
// writes relationship and aggregate properties through this interface.
package cards

import (
	"context"

	"github.com/arborhq/arbor/internal/types"
)

// Store is implemented by *sqlite.SQLiteStorage and *memory.MemoryStorage.
type Store interface {
	// GetCard returns the card or an error wrapping types.ErrNotFound.
	GetCard(ctx context.Context, id string) (*types.Card, error)

	// GetProperty returns the value and whether it is set.
	GetProperty(ctx context.Context, cardID, name string) (string, bool, error)

	// ApplyProperties writes a batch atomically: either every write lands
	// or none does.
	ApplyProperties(ctx context.Context, writes []types.PropertyWrite) error

	// DefineProperty creates or replaces a property definition.
	DefineProperty(ctx context.Context, def types.PropertyDefinition) error

	// DropProperty deletes the definition and every stored value.
	DropProperty(ctx context.Context, name string) error

	// PropertyDefined reports whether name is defined for cardType.
	PropertyDefined(ctx context.Context, cardType, name string) (bool, error)

	// LookupProperty returns the definition of name, or nil when no card
	// type defines it.
	LookupProperty(ctx context.Context, name string) (*types.PropertyDefinition, error)
}
