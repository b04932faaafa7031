// Package types defines core data structures for the arbor tree engine.
package types

import (
	"fmt"
	"strings"
)

// Card is the engine's view of an externally owned card: identity and type.
// Property values are read and written through cards.Store.
type Card struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Level is one layer of a tree: the card type living at that depth and the
// generated relationship property that points at an ancestor of that type.
type Level struct {
	CardType             string `json:"card_type"`
	RelationshipProperty string `json:"relationship_property"`
}

// TreeSchema is an ordered list of levels. Values published by the schema
// registry are immutable; mutate a Clone.
type TreeSchema struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Levels  []Level `json:"levels"`
	Version int64   `json:"version"`
}

// Clone returns a deep copy of the schema.
func (s *TreeSchema) Clone() *TreeSchema {
	if s == nil {
		return nil
	}
	c := *s
	c.Levels = append([]Level(nil), s.Levels...)
	return &c
}

// LevelOf returns the index of the level holding cardType, or -1.
func (s *TreeSchema) LevelOf(cardType string) int {
	for i, l := range s.Levels {
		if l.CardType == cardType {
			return i
		}
	}
	return -1
}

// LevelOfProperty returns the index of the level whose relationship property
// is name, or -1.
func (s *TreeSchema) LevelOfProperty(name string) int {
	for i, l := range s.Levels {
		if l.RelationshipProperty == name {
			return i
		}
	}
	return -1
}

// IsLeafType reports whether cardType is the last level of the tree.
func (s *TreeSchema) IsLeafType(cardType string) bool {
	return len(s.Levels) > 0 && s.Levels[len(s.Levels)-1].CardType == cardType
}

// Properties returns the relationship property names in level order.
func (s *TreeSchema) Properties() []string {
	out := make([]string, len(s.Levels))
	for i, l := range s.Levels {
		out[i] = l.RelationshipProperty
	}
	return out
}

// Types returns the card types in level order.
func (s *TreeSchema) Types() []string {
	out := make([]string, len(s.Levels))
	for i, l := range s.Levels {
		out[i] = l.CardType
	}
	return out
}

// DefaultRelationshipProperty is the generated property name for a level
// whose property was left empty.
func DefaultRelationshipProperty(treeName, cardType string) string {
	return fmt.Sprintf("%s - %s", treeName, cardType)
}

// MembershipEdge records that a card is a member of a tree. An empty
// ParentID means the card is a root-level member.
type MembershipEdge struct {
	TreeID   string `json:"tree_id"`
	CardID   string `json:"card_id"`
	ParentID string `json:"parent_id,omitempty"`
	CardType string `json:"card_type"`
	Rank     int64  `json:"rank"`
}

// IsRoot reports whether the edge has no parent.
func (e *MembershipEdge) IsRoot() bool {
	return e.ParentID == ""
}

// CascadeMode selects how RemoveFromTree treats the removed card's subtree.
type CascadeMode string

const (
	// JustThisCard detaches the card and promotes its children to its parent.
	JustThisCard CascadeMode = "just_this_card"
	// WithChildren detaches the card and its whole subtree.
	WithChildren CascadeMode = "with_children"
)

// IsValid checks if the cascade mode is known.
func (m CascadeMode) IsValid() bool {
	return m == JustThisCard || m == WithChildren
}

// AggregateFunction is the fold applied over an aggregate scope.
type AggregateFunction string

const (
	FuncCount AggregateFunction = "count"
	FuncSum   AggregateFunction = "sum"
	FuncAvg   AggregateFunction = "avg"
	FuncMin   AggregateFunction = "min"
	FuncMax   AggregateFunction = "max"
)

// ParseAggregateFunction accepts any case ("COUNT", "sum", ...).
func ParseAggregateFunction(s string) (AggregateFunction, error) {
	f := AggregateFunction(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("unknown aggregate function %q (want count, sum, avg, min or max)", s)
	}
	return f, nil
}

// IsValid checks if the function is one of the supported folds.
func (f AggregateFunction) IsValid() bool {
	switch f {
	case FuncCount, FuncSum, FuncAvg, FuncMin, FuncMax:
		return true
	}
	return false
}

// NeedsSource reports whether the function folds over a source property.
func (f AggregateFunction) NeedsSource() bool {
	return f != FuncCount
}

// ScopeKind selects which descendants feed an aggregate.
type ScopeKind string

const (
	ScopeAllDescendants ScopeKind = "all_descendants"
	ScopeDirectChildren ScopeKind = "direct_children"
	ScopeCardType       ScopeKind = "card_type"
)

// Scope is a descendant selection rule. CardType is only used with
// ScopeCardType.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	CardType string    `json:"card_type,omitempty"`
}

// AllDescendants is the scope covering a node's whole subtree.
func AllDescendants() Scope { return Scope{Kind: ScopeAllDescendants} }

// DirectChildren is the scope covering a node's direct children.
func DirectChildren() Scope { return Scope{Kind: ScopeDirectChildren} }

// OfType is the scope covering the descendants of one card type.
func OfType(cardType string) Scope { return Scope{Kind: ScopeCardType, CardType: cardType} }

// ParseScope parses "all", "children" or "type:<CardType>".
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "all", "all_descendants", "descendants":
		return AllDescendants(), nil
	case "children", "direct_children", "direct":
		return DirectChildren(), nil
	}
	if t, ok := strings.CutPrefix(s, "type:"); ok && strings.TrimSpace(t) != "" {
		return OfType(strings.TrimSpace(t)), nil
	}
	return Scope{}, fmt.Errorf("unknown scope %q (want all, children or type:<card type>)", s)
}

func (s Scope) String() string {
	if s.Kind == ScopeCardType {
		return "type:" + s.CardType
	}
	return string(s.Kind)
}

// AggregateDefinition describes one aggregate property computed on every
// card of NodeType in a tree.
type AggregateDefinition struct {
	ID             string            `json:"id"`
	TreeID         string            `json:"tree_id"`
	NodeType       string            `json:"node_type"`
	Name           string            `json:"name"`
	Function       AggregateFunction `json:"function"`
	SourceProperty string            `json:"source_property,omitempty"`
	Scope          Scope             `json:"scope"`
}

// ArtifactKind names the kind of artifact a destructive schema change
// would delete.
type ArtifactKind string

const (
	ArtifactRelationshipProperty ArtifactKind = "relationship_property"
	ArtifactAggregateDefinition  ArtifactKind = "aggregate_definition"
	ArtifactSavedView            ArtifactKind = "saved_view"
	ArtifactTransition           ArtifactKind = "transition"
)

// Artifact is a dependent slated for deletion by a schema change.
type Artifact struct {
	Kind ArtifactKind `json:"kind"`
	ID   string       `json:"id"`
	Name string       `json:"name"`
}

func (a Artifact) String() string {
	return fmt.Sprintf("%s %q", a.Kind, a.Name)
}

// PropertyWrite sets (Value non-nil) or clears (Value nil) one property.
type PropertyWrite struct {
	CardID   string
	Property string
	Value    *string
}

// Set returns a write assigning value.
func Set(cardID, property, value string) PropertyWrite {
	return PropertyWrite{CardID: cardID, Property: property, Value: &value}
}

// Clear returns a write resetting the property to not-set.
func Clear(cardID, property string) PropertyWrite {
	return PropertyWrite{CardID: cardID, Property: property}
}

// PropertyKind distinguishes property definitions created by the engine.
type PropertyKind string

const (
	PropertyRelationship PropertyKind = "relationship"
	PropertyAggregate    PropertyKind = "aggregate"
	PropertyUser         PropertyKind = "user"
)

// PropertyDefinition declares a property on a set of card types.
type PropertyDefinition struct {
	Name      string       `json:"name"`
	Kind      PropertyKind `json:"kind"`
	CardTypes []string     `json:"card_types"`
}
