// Package schema holds tree schemas and validates every change to them.
//
// The Registry publishes immutable *types.TreeSchema values. A change is
// validated against the current value (Prepare*), and stored later with a
// compare-and-swap on the schema version (Put, Delete) so that a change
// planned against an older version cannot be committed over a newer one.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/types"
)

// ReservedName cannot be used as a tree name in any letter case.
const ReservedName = "none"

// RestrictedChars may not appear in tree or relationship property names.
const RestrictedChars = `[]&=#;,"'`

// MaxNameLength bounds tree and property names.
const MaxNameLength = 255

// Registry is the process-wide set of tree schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*types.TreeSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*types.TreeSchema)}
}

// Load replaces the registry contents with previously persisted schemas.
func (r *Registry) Load(schemas []*types.TreeSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = make(map[string]*types.TreeSchema, len(schemas))
	for _, s := range schemas {
		r.schemas[s.ID] = s.Clone()
	}
}

// Get returns the current snapshot of a schema.
func (r *Registry) Get(id string) (*types.TreeSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	return s, ok
}

// Lookup resolves a schema by id or, failing that, by case-insensitive name.
func (r *Registry) Lookup(idOrName string) (*types.TreeSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.schemas[idOrName]; ok {
		return s, true
	}
	for _, s := range r.schemas {
		if strings.EqualFold(s.Name, idOrName) {
			return s, true
		}
	}
	return nil, false
}

// List returns all schemas sorted by name.
func (r *Registry) List() []*types.TreeSchema {
	r.mu.RLock()
	out := make([]*types.TreeSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Put stores next if the stored version still equals expectVersion (0 for a
// schema that must not exist yet). The stored value gets expectVersion+1.
// Name and relationship property uniqueness are checked again under the
// write lock, so of two racing creates with one name only the first wins.
func (r *Registry) Put(next *types.TreeSchema, expectVersion int64) (*types.TreeSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.schemas[next.ID]
	switch {
	case !ok && expectVersion != 0:
		return nil, fmt.Errorf("tree %s: %w", next.ID, types.ErrStaleChange)
	case ok && cur.Version != expectVersion:
		return nil, fmt.Errorf("tree %s at version %d, change planned at %d: %w", next.ID, cur.Version, expectVersion, types.ErrStaleChange)
	}
	if err := r.validateName(next.ID, next.Name); err != nil {
		return nil, err
	}
	if err := r.validateLevels(next); err != nil {
		return nil, err
	}
	stored := next.Clone()
	stored.Version = expectVersion + 1
	r.schemas[stored.ID] = stored
	return stored, nil
}

// Delete removes a schema if its version still equals expectVersion.
func (r *Registry) Delete(id string, expectVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.schemas[id]
	if !ok || cur.Version != expectVersion {
		return fmt.Errorf("tree %s: %w", id, types.ErrStaleChange)
	}
	delete(r.schemas, id)
	return nil
}

// PrepareCreate validates a new schema and returns it with a fresh id and
// generated relationship property names filled in.
func (r *Registry) PrepareCreate(name string, levels []types.Level) (*types.TreeSchema, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.validateName("", name); err != nil {
		return nil, err
	}
	s := &types.TreeSchema{ID: uuid.NewString(), Name: name, Levels: normalizeLevels(name, levels)}
	if err := r.validateLevels(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfiguration describes a validated prefix-compatible level change.
type Reconfiguration struct {
	Current *types.TreeSchema
	Next    *types.TreeSchema
	Added   []types.Level
	Removed []types.Level
}

// PrepareReconfigure validates newLevels against the current schema. Only
// appending or truncating at the end of the chain is accepted.
func (r *Registry) PrepareReconfigure(id string, newLevels []types.Level) (*Reconfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", id, types.ErrNotFound)
	}

	next := cur.Clone()
	next.Levels = normalizeLevels(cur.Name, newLevels)
	if err := r.validateLevels(next); err != nil {
		return nil, err
	}

	common := len(cur.Levels)
	if len(next.Levels) < common {
		common = len(next.Levels)
	}
	for i := 0; i < common; i++ {
		if cur.Levels[i].CardType != next.Levels[i].CardType {
			return nil, &types.ReorderNotAllowedError{TreeID: id, Current: cur.Types(), Wanted: next.Types()}
		}
		// Kept levels keep their property; an explicit different name is a rename.
		want := strings.TrimSpace(newLevels[i].RelationshipProperty)
		if want != "" && want != cur.Levels[i].RelationshipProperty {
			return nil, &types.ValidationError{TreeID: id, Field: "levels",
				Reason: fmt.Sprintf("relationship property %q of level %q cannot be renamed to %q", cur.Levels[i].RelationshipProperty, cur.Levels[i].CardType, want)}
		}
		next.Levels[i].RelationshipProperty = cur.Levels[i].RelationshipProperty
	}

	rc := &Reconfiguration{Current: cur, Next: next}
	if len(next.Levels) > common {
		rc.Added = append(rc.Added, next.Levels[common:]...)
	}
	if len(cur.Levels) > common {
		rc.Removed = append(rc.Removed, cur.Levels[common:]...)
	}
	return rc, nil
}

// PrepareRemoveLevel returns the schema without level index.
func (r *Registry) PrepareRemoveLevel(id string, index int) (*Reconfiguration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", id, types.ErrNotFound)
	}
	if index < 0 || index >= len(cur.Levels) {
		return nil, &types.ValidationError{TreeID: id, Field: "level", Reason: fmt.Sprintf("level index %d out of range [0,%d)", index, len(cur.Levels))}
	}
	if len(cur.Levels) <= 2 {
		return nil, &types.ValidationError{TreeID: id, Field: "levels", Reason: "a tree needs at least 2 levels; delete the tree instead"}
	}
	next := cur.Clone()
	next.Levels = append(next.Levels[:index:index], cur.Levels[index+1:]...)
	return &Reconfiguration{Current: cur, Next: next, Removed: []types.Level{cur.Levels[index]}}, nil
}

func normalizeLevels(treeName string, levels []types.Level) []types.Level {
	out := make([]types.Level, len(levels))
	for i, l := range levels {
		l.CardType = strings.TrimSpace(l.CardType)
		l.RelationshipProperty = strings.TrimSpace(l.RelationshipProperty)
		if l.RelationshipProperty == "" && l.CardType != "" {
			l.RelationshipProperty = types.DefaultRelationshipProperty(treeName, l.CardType)
		}
		out[i] = l
	}
	return out
}

// validateName must be called with r.mu held.
func (r *Registry) validateName(selfID, name string) error {
	if name == "" {
		return types.Invalid("name", "tree name is required")
	}
	if len(name) > MaxNameLength {
		return types.Invalid("name", "tree name must be %d characters or less (got %d)", MaxNameLength, len(name))
	}
	if strings.EqualFold(name, ReservedName) {
		return types.Invalid("name", "%q is a reserved name", name)
	}
	if i := strings.IndexAny(name, RestrictedChars); i >= 0 {
		return types.Invalid("name", "tree name %q contains restricted character %q (restricted: %s)", name, name[i], RestrictedChars)
	}
	for _, s := range r.schemas {
		if s.ID != selfID && strings.EqualFold(s.Name, name) {
			return types.Invalid("name", "a tree named %q already exists", s.Name)
		}
	}
	return nil
}

// validateLevels must be called with r.mu held.
func (r *Registry) validateLevels(s *types.TreeSchema) error {
	if len(s.Levels) < 2 {
		return &types.ValidationError{TreeID: s.ID, Field: "levels", Reason: fmt.Sprintf("a tree needs at least 2 levels (got %d)", len(s.Levels))}
	}
	seenTypes := make(map[string]bool, len(s.Levels))
	seenProps := make(map[string]bool, len(s.Levels))
	for i, l := range s.Levels {
		if l.CardType == "" {
			return &types.ValidationError{TreeID: s.ID, Field: "levels", Reason: fmt.Sprintf("level %d has no card type", i)}
		}
		key := strings.ToLower(l.CardType)
		if seenTypes[key] {
			return &types.ValidationError{TreeID: s.ID, Field: "levels", Reason: fmt.Sprintf("card type %q appears more than once", l.CardType)}
		}
		seenTypes[key] = true

		prop := strings.ToLower(l.RelationshipProperty)
		if seenProps[prop] {
			return &types.ValidationError{TreeID: s.ID, Field: "levels", Reason: fmt.Sprintf("relationship property %q appears more than once", l.RelationshipProperty)}
		}
		seenProps[prop] = true
		if strings.ContainsAny(l.RelationshipProperty, RestrictedChars) {
			return &types.ValidationError{TreeID: s.ID, Field: "levels", Reason: fmt.Sprintf("relationship property %q contains a restricted character (restricted: %s)", l.RelationshipProperty, RestrictedChars)}
		}
	}
	for _, other := range r.schemas {
		if other.ID == s.ID {
			continue
		}
		for _, l := range other.Levels {
			if seenProps[strings.ToLower(l.RelationshipProperty)] {
				return &types.ValidationError{TreeID: s.ID, Field: "levels", Reason: fmt.Sprintf("relationship property %q is already used by tree %q", l.RelationshipProperty, other.Name)}
			}
		}
	}
	return nil
}
