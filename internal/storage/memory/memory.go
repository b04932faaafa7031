// Package memory implements storage.Storage in process memory. It backs
// tests and throwaway sessions; nothing survives Close.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

var _ storage.Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps cards, property values, property definitions and
// tree state in maps guarded by one lock.
type MemoryStorage struct {
	mu     sync.RWMutex
	cards  map[string]*types.Card
	props  map[string]map[string]string
	defs   map[string]*types.PropertyDefinition
	trees  map[string]*storage.TreeState
	dirty  map[string]*dirtyRows
	closed bool

	// applyHook, when set, runs before a batch is applied and can fail it.
	applyHook func(writes []types.PropertyWrite) error
}

// New creates an empty store.
func New() *MemoryStorage {
	return &MemoryStorage{
		cards: make(map[string]*types.Card),
		props: make(map[string]map[string]string),
		defs:  make(map[string]*types.PropertyDefinition),
		trees: make(map[string]*storage.TreeState),
		dirty: make(map[string]*dirtyRows),
	}
}

// SetApplyHook installs fn to run before every ApplyProperties batch. A
// non-nil error from fn fails the batch with nothing written.
func (m *MemoryStorage) SetApplyHook(fn func(writes []types.PropertyWrite) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyHook = fn
}

func (m *MemoryStorage) CreateCard(_ context.Context, card *types.Card) error {
	if card.ID == "" || card.Type == "" {
		return fmt.Errorf("card id and type are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[card.ID]; ok {
		return fmt.Errorf("card %s: %w", card.ID, storage.ErrAlreadyExists)
	}
	c := *card
	m.cards[card.ID] = &c
	return nil
}

func (m *MemoryStorage) GetCard(_ context.Context, id string) (*types.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStorage) SetCardType(_ context.Context, id, cardType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return "", fmt.Errorf("card %s: %w", id, types.ErrNotFound)
	}
	old := c.Type
	c.Type = cardType
	return old, nil
}

func (m *MemoryStorage) ListCards(_ context.Context, filter storage.CardFilter) ([]*types.Card, error) {
	m.mu.RLock()
	out := make([]*types.Card, 0, len(m.cards))
	for _, c := range m.cards {
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStorage) GetProperty(_ context.Context, cardID, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.props[cardID][name]
	return v, ok, nil
}

func (m *MemoryStorage) GetProperties(_ context.Context, cardID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.cards[cardID]; !ok {
		return nil, fmt.Errorf("card %s: %w", cardID, types.ErrNotFound)
	}
	out := make(map[string]string, len(m.props[cardID]))
	for k, v := range m.props[cardID] {
		out[k] = v
	}
	return out, nil
}

// ApplyProperties validates the whole batch before touching any value.
func (m *MemoryStorage) ApplyProperties(_ context.Context, writes []types.PropertyWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyHook != nil {
		if err := m.applyHook(writes); err != nil {
			return err
		}
	}
	for _, w := range writes {
		c, ok := m.cards[w.CardID]
		if !ok {
			return fmt.Errorf("write %s: card %s: %w", w.Property, w.CardID, types.ErrNotFound)
		}
		if w.Value == nil {
			continue
		}
		if !m.definedLocked(c.Type, w.Property) {
			return fmt.Errorf("write %s on %s: property is not defined for %s: %w", w.Property, w.CardID, c.Type, types.ErrValidation)
		}
	}
	for _, w := range writes {
		if w.Value == nil {
			delete(m.props[w.CardID], w.Property)
			continue
		}
		if m.props[w.CardID] == nil {
			m.props[w.CardID] = make(map[string]string)
		}
		m.props[w.CardID][w.Property] = *w.Value
	}
	return nil
}

func (m *MemoryStorage) DefineProperty(_ context.Context, def types.PropertyDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("property name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := def
	d.CardTypes = append([]string(nil), def.CardTypes...)
	m.defs[def.Name] = &d
	return nil
}

func (m *MemoryStorage) DropProperty(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs, name)
	for _, bag := range m.props {
		delete(bag, name)
	}
	return nil
}

func (m *MemoryStorage) PropertyDefined(_ context.Context, cardType, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.definedLocked(cardType, name), nil
}

func (m *MemoryStorage) LookupProperty(_ context.Context, name string) (*types.PropertyDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.defs[name]
	if !ok {
		return nil, nil
	}
	cp := *d
	cp.CardTypes = append([]string(nil), d.CardTypes...)
	return &cp, nil
}

func (m *MemoryStorage) definedLocked(cardType, name string) bool {
	d, ok := m.defs[name]
	if !ok {
		return false
	}
	for _, t := range d.CardTypes {
		if t == cardType {
			return true
		}
	}
	return false
}

func (m *MemoryStorage) ListPropertyDefinitions(_ context.Context) ([]*types.PropertyDefinition, error) {
	m.mu.RLock()
	out := make([]*types.PropertyDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		cp := *d
		cp.CardTypes = append([]string(nil), d.CardTypes...)
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) LoadTrees(_ context.Context) ([]*storage.TreeState, error) {
	m.mu.RLock()
	out := make([]*storage.TreeState, 0, len(m.trees))
	for id, st := range m.trees {
		cp := copyState(st)
		if rows, ok := m.dirty[id]; ok {
			cp.Dirty = rows.marks()
		}
		out = append(out, cp)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Schema.Name < out[j].Schema.Name })
	return out, nil
}

func (m *MemoryStorage) SaveTree(_ context.Context, state *storage.TreeState) error {
	if state == nil || state.Schema == nil {
		return fmt.Errorf("tree state without schema")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[state.Schema.ID] = copyState(state)
	m.markLocked(state.Schema.ID, state.Dirty)
	return nil
}

func (m *MemoryStorage) DeleteTree(_ context.Context, treeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trees, treeID)
	delete(m.dirty, treeID)
	return nil
}

func (m *MemoryStorage) MarkDirty(_ context.Context, treeID string, marks *storage.DirtyMarks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trees[treeID]; !ok {
		return fmt.Errorf("tree %s: %w", treeID, types.ErrNotFound)
	}
	m.markLocked(treeID, marks)
	return nil
}

func (m *MemoryStorage) ClearDirty(_ context.Context, treeID string, marks *storage.DirtyMarks) error {
	if marks.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.dirty[treeID]
	if !ok {
		return nil
	}
	if marks.Full {
		rows.full = false
	}
	for _, id := range marks.Cards {
		delete(rows.cards, id)
	}
	for _, id := range marks.Detached {
		delete(rows.detached, id)
	}
	if rows.marks().Empty() {
		delete(m.dirty, treeID)
	}
	return nil
}

func (m *MemoryStorage) markLocked(treeID string, marks *storage.DirtyMarks) {
	if marks.Empty() {
		return
	}
	rows, ok := m.dirty[treeID]
	if !ok {
		rows = &dirtyRows{cards: make(map[string]struct{}), detached: make(map[string]struct{})}
		m.dirty[treeID] = rows
	}
	rows.full = rows.full || marks.Full
	for _, id := range marks.Cards {
		rows.cards[id] = struct{}{}
	}
	for _, id := range marks.Detached {
		rows.detached[id] = struct{}{}
	}
}

func (m *MemoryStorage) Path() string { return ":memory:" }

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// dirtyRows mirrors the dirty_marks table of the sqlite backend.
type dirtyRows struct {
	full     bool
	cards    map[string]struct{}
	detached map[string]struct{}
}

func (r *dirtyRows) marks() *storage.DirtyMarks {
	out := &storage.DirtyMarks{Full: r.full}
	for id := range r.cards {
		out.Cards = append(out.Cards, id)
	}
	for id := range r.detached {
		out.Detached = append(out.Detached, id)
	}
	sort.Strings(out.Cards)
	sort.Strings(out.Detached)
	return out
}

func copyState(st *storage.TreeState) *storage.TreeState {
	out := &storage.TreeState{Schema: st.Schema.Clone()}
	for _, e := range st.Edges {
		c := *e
		out.Edges = append(out.Edges, &c)
	}
	for _, d := range st.Aggregates {
		c := *d
		out.Aggregates = append(out.Aggregates, &c)
	}
	return out
}
