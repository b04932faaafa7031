// Package aggregate holds aggregate definitions, the dirty set that tracks
// which node cards need recomputation, and the engine that folds descendant
// property values into aggregate properties on RunOnce.
package aggregate

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/schema"
	"github.com/arborhq/arbor/internal/types"
)

// Registry stores aggregate definitions by id. Definitions are immutable
// once registered; callers receive copies.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*types.AggregateDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*types.AggregateDefinition)}
}

// Load replaces the registry contents with persisted definitions.
func (r *Registry) Load(defs []*types.AggregateDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]*types.AggregateDefinition, len(defs))
	for _, d := range defs {
		c := *d
		r.defs[d.ID] = &c
	}
}

// Get returns a copy of the definition with the given id.
func (r *Registry) Get(id string) (*types.AggregateDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, false
	}
	c := *d
	return &c, true
}

// Lookup finds a definition of treeID by id or case-insensitive name.
func (r *Registry) Lookup(treeID, idOrName string) (*types.AggregateDefinition, bool) {
	if d, ok := r.Get(idOrName); ok && d.TreeID == treeID {
		return d, true
	}
	for _, d := range r.ForTree(treeID) {
		if strings.EqualFold(d.Name, idOrName) {
			return d, true
		}
	}
	return nil, false
}

// ForTree returns copies of the definitions of treeID sorted by name.
func (r *Registry) ForTree(treeID string) []*types.AggregateDefinition {
	r.mu.RLock()
	out := make([]*types.AggregateDefinition, 0)
	for _, d := range r.defs {
		if d.TreeID == treeID {
			c := *d
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers a prepared definition.
func (r *Registry) Add(def *types.AggregateDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *def
	r.defs[def.ID] = &c
}

// Remove unregisters a definition. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.defs, id)
}

// DependingOn returns the definitions of treeID whose node type or scope
// type is one of cardTypes. These are the definitions a level removal
// deletes.
func (r *Registry) DependingOn(treeID string, cardTypes []string) []*types.AggregateDefinition {
	var out []*types.AggregateDefinition
	for _, d := range r.ForTree(treeID) {
		for _, t := range cardTypes {
			if strings.EqualFold(d.NodeType, t) ||
				(d.Scope.Kind == types.ScopeCardType && strings.EqualFold(d.Scope.CardType, t)) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Prepare validates def against the tree schema and the other registered
// definitions and returns a copy with a fresh id. It does not register it.
func (r *Registry) Prepare(s *types.TreeSchema, def types.AggregateDefinition) (*types.AggregateDefinition, error) {
	def.TreeID = s.ID
	def.Name = strings.TrimSpace(def.Name)
	def.SourceProperty = strings.TrimSpace(def.SourceProperty)
	if !def.Function.NeedsSource() {
		def.SourceProperty = ""
	}
	if err := Validate(s, &def); err != nil {
		return nil, err
	}
	for _, p := range s.Properties() {
		if strings.EqualFold(p, def.Name) {
			return nil, &types.ValidationError{TreeID: s.ID, Field: "name", Reason: "collides with relationship property " + p}
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, other := range r.defs {
		if strings.EqualFold(other.Name, def.Name) {
			return nil, &types.ValidationError{TreeID: s.ID, Field: "name", Reason: "an aggregate named " + other.Name + " already exists"}
		}
	}
	def.ID = uuid.NewString()
	return &def, nil
}

// Validate checks the structural shape of def against a schema: the node
// type must be a non-leaf level of the tree, a typed scope must name a
// level below the node and numeric folds need a source property.
func Validate(s *types.TreeSchema, def *types.AggregateDefinition) error {
	if def.Name == "" {
		return &types.ValidationError{TreeID: s.ID, Field: "name", Reason: "must not be empty"}
	}
	if strings.ContainsAny(def.Name, schema.RestrictedChars) {
		return &types.ValidationError{TreeID: s.ID, Field: "name", Reason: "must not contain any of " + schema.RestrictedChars}
	}
	if !def.Function.IsValid() {
		return &types.ValidationError{TreeID: s.ID, Field: "function", Reason: "unknown function " + string(def.Function)}
	}
	node := s.LevelOf(def.NodeType)
	if node < 0 {
		return &types.ValidationError{TreeID: s.ID, Field: "node_type", Reason: def.NodeType + " is not a level of the tree"}
	}
	if node == len(s.Levels)-1 {
		return &types.ValidationError{TreeID: s.ID, Field: "node_type", Reason: def.NodeType + " is the leaf level and has no descendants"}
	}
	switch def.Scope.Kind {
	case types.ScopeAllDescendants, types.ScopeDirectChildren:
	case types.ScopeCardType:
		if s.LevelOf(def.Scope.CardType) <= node {
			return &types.ValidationError{TreeID: s.ID, Field: "scope", Reason: def.Scope.CardType + " is not a level below " + def.NodeType}
		}
	default:
		return &types.ValidationError{TreeID: s.ID, Field: "scope", Reason: "unknown scope " + string(def.Scope.Kind)}
	}
	if def.Function.NeedsSource() && def.SourceProperty == "" {
		return &types.ValidationError{TreeID: s.ID, Field: "source_property", Reason: string(def.Function) + " needs a source property"}
	}
	return nil
}

// ScopeTypes returns the card types whose values can feed def in s.
func ScopeTypes(s *types.TreeSchema, def *types.AggregateDefinition) []string {
	if def.Scope.Kind == types.ScopeCardType {
		return []string{def.Scope.CardType}
	}
	node := s.LevelOf(def.NodeType)
	if node < 0 {
		return nil
	}
	// Promotion can leave skip-level children, so every lower level may
	// appear even in a direct-children scope.
	return s.Types()[node+1:]
}
