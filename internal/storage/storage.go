// Package storage provides the contracts shared by arbor's storage
// backends.
//
// The concrete implementations live in the sqlite (durable) and memory
// (tests, ephemeral sessions) sub-packages. Both serve card data to the
// engine through cards.Store and persist tree state through Persister.
package storage

import (
	"context"
	"errors"

	"github.com/arborhq/arbor/internal/cards"
	"github.com/arborhq/arbor/internal/types"
)

// ErrNotInitialized is returned when a workspace database is missing.
var ErrNotInitialized = errors.New("database not initialized")

// ErrAlreadyExists is returned when creating a card whose id is taken.
var ErrAlreadyExists = errors.New("already exists")

// TreeState is everything persisted for one tree.
type TreeState struct {
	Schema     *types.TreeSchema
	Edges      []*types.MembershipEdge
	Aggregates []*types.AggregateDefinition

	// Dirty is merged into the pending aggregate work of the tree by
	// SaveTree. LoadTrees returns everything still pending.
	Dirty *DirtyMarks
}

// DirtyMarks is aggregate work that survives the process that caused it.
type DirtyMarks struct {
	// Full requests recomputation of every node card.
	Full bool
	// Cards are node candidates whose subtree changed.
	Cards []string
	// Detached cards left the tree and need their aggregate values cleared.
	Detached []string
}

// Empty reports whether m records no work.
func (m *DirtyMarks) Empty() bool {
	return m == nil || (!m.Full && len(m.Cards) == 0 && len(m.Detached) == 0)
}

// Persister stores tree state. SaveTree replaces the whole state of one
// tree atomically, except for dirty marks which accumulate until cleared.
type Persister interface {
	LoadTrees(ctx context.Context) ([]*TreeState, error)
	SaveTree(ctx context.Context, state *TreeState) error
	DeleteTree(ctx context.Context, treeID string) error

	// MarkDirty records marks for a tree whose state is otherwise unchanged.
	MarkDirty(ctx context.Context, treeID string, marks *DirtyMarks) error
	// ClearDirty removes marks consumed by a successful aggregate pass.
	ClearDirty(ctx context.Context, treeID string, marks *DirtyMarks) error
}

// CardFilter selects cards for ListCards. Zero values match everything.
type CardFilter struct {
	Type  string
	Limit int
}

// Storage is the interface satisfied by *sqlite.SQLiteStorage and
// *memory.MemoryStorage.
type Storage interface {
	cards.Store
	Persister

	// Card management
	CreateCard(ctx context.Context, card *types.Card) error
	// SetCardType changes a card's type and returns the previous type.
	SetCardType(ctx context.Context, id, cardType string) (string, error)
	ListCards(ctx context.Context, filter CardFilter) ([]*types.Card, error)
	GetProperties(ctx context.Context, cardID string) (map[string]string, error)
	ListPropertyDefinitions(ctx context.Context) ([]*types.PropertyDefinition, error)

	// Lifecycle
	Path() string
	Close() error
}
