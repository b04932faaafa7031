// Package propagate derives relationship property values from membership.
//
// Relationship properties are never authoritative: for a member at level L
// the property of each level j < L holds the chain ancestor of that level's
// type, or is not-set. This package computes those values, the property
// writes that move a card set from one snapshot to another, and resolves a
// direct property assignment into a placement.
package propagate

import (
	"sort"

	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/types"
)

// Values returns the derived relationship property values of cardID keyed
// by property name. Not-set properties are omitted. A non-member has none.
func Values(t *membership.Tree, cardID string) map[string]string {
	out := make(map[string]string)
	if t == nil {
		return out
	}
	level := t.LevelOf(cardID)
	for j := 0; j < level; j++ {
		if anc, ok := t.AncestorAt(cardID, j); ok {
			out[t.Schema().Levels[j].RelationshipProperty] = anc
		}
	}
	return out
}

// Diff returns the writes that turn the derived values of cardIDs in before
// into their derived values in after. Only properties of after's schema are
// considered; a dropped property is cleared by dropping its definition.
func Diff(before, after *membership.Tree, cardIDs []string) []types.PropertyWrite {
	if after == nil {
		return nil
	}
	props := after.Schema().Properties()
	var writes []types.PropertyWrite
	seen := make(map[string]bool, len(cardIDs))
	for _, id := range cardIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		was := Values(before, id)
		now := Values(after, id)
		for _, p := range props {
			oldV, oldOK := was[p]
			newV, newOK := now[p]
			switch {
			case newOK && (!oldOK || oldV != newV):
				writes = append(writes, types.Set(id, p, newV))
			case !newOK && oldOK:
				writes = append(writes, types.Clear(id, p))
			}
		}
	}
	return writes
}

// ClearAll returns writes clearing every relationship property of schema
// on cardIDs, regardless of their current values.
func ClearAll(schema *types.TreeSchema, cardIDs []string) []types.PropertyWrite {
	writes := make([]types.PropertyWrite, 0, len(cardIDs)*len(schema.Levels))
	for _, id := range cardIDs {
		for _, p := range schema.Properties() {
			writes = append(writes, types.Clear(id, p))
		}
	}
	return writes
}

// Request is a direct assignment of relationship properties on one card.
// An empty value means not-set.
type Request struct {
	CardID   string
	CardType string
	Values   map[string]string
}

// Placement is where a Request puts the card.
type Placement struct {
	// Place is false when the request leaves a non-member out of the tree.
	Place    bool
	ParentID string
}

// Resolve turns req into a placement. Requested values overlay the card's
// current values; the deepest set level picks the parent and every other
// set level must agree with the parent's chain. Two requested values that
// disagree fail with AmbiguousPlacementError; a requested value wins over a
// disagreeing current one.
func Resolve(t *membership.Tree, req Request) (Placement, error) {
	schema := t.Schema()
	level := schema.LevelOf(req.CardType)
	if level < 0 {
		return Placement{}, &types.TypeMismatchError{TreeID: t.ID(), CardID: req.CardID, CardType: req.CardType, Reason: "card type is not part of the tree"}
	}

	n := len(schema.Levels)
	effective := make([]string, n)
	requested := make([]bool, n)

	if t.IsMember(req.CardID) {
		for j := 0; j < level; j++ {
			if anc, ok := t.AncestorAt(req.CardID, j); ok {
				effective[j] = anc
			}
		}
	}

	names := make([]string, 0, len(req.Values))
	for name := range req.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := req.Values[name]
		j := schema.LevelOfProperty(name)
		if j < 0 {
			return Placement{}, &types.ValidationError{TreeID: t.ID(), Field: name, Reason: "not a relationship property of this tree"}
		}
		if j >= level {
			return Placement{}, &types.TypeMismatchError{TreeID: t.ID(), CardID: req.CardID, CardType: req.CardType, Property: name,
				Reason: "property is not applicable at or below the card's own level"}
		}
		if value != "" {
			if err := checkTarget(t, j, name, value); err != nil {
				return Placement{}, err
			}
		}
		effective[j] = value
		requested[j] = true
	}

	for {
		k := deepest(effective)
		if k < 0 {
			if !t.IsMember(req.CardID) {
				return Placement{}, nil
			}
			return Placement{Place: true}, nil
		}
		restart := false
		for j := 0; j < k && !restart; j++ {
			if effective[j] == "" {
				continue
			}
			anc, _ := t.AncestorAt(effective[k], j)
			if anc == effective[j] {
				continue
			}
			switch {
			case requested[j] && requested[k]:
				return Placement{}, &types.AmbiguousPlacementError{
					TreeID:    t.ID(),
					CardID:    req.CardID,
					Property:  schema.Levels[j].RelationshipProperty,
					Value:     effective[j],
					Conflicts: schema.Levels[k].RelationshipProperty,
					With:      effective[k],
				}
			case requested[j]:
				effective[k] = ""
				restart = true
			default:
				effective[j] = ""
			}
		}
		if !restart {
			return Placement{Place: true, ParentID: effective[k]}, nil
		}
	}
}

func checkTarget(t *membership.Tree, level int, property, value string) error {
	want := t.Schema().Levels[level].CardType
	e, ok := t.Edge(value)
	if !ok {
		return &types.NotAMemberError{TreeID: t.ID(), CardID: value}
	}
	if e.CardType != want {
		return &types.TypeMismatchError{TreeID: t.ID(), CardID: value, CardType: e.CardType, ExpectedType: want, Property: property,
			Reason: "value of a relationship property must be a card of the level's type"}
	}
	return nil
}

func deepest(values []string) int {
	for k := len(values) - 1; k >= 0; k-- {
		if values[k] != "" {
			return k
		}
	}
	return -1
}
