// Package membership is the source of truth for tree structure: which cards
// are members of a tree, under which parent, and in which sibling order.
//
// A *Tree is an immutable point-in-time snapshot. Writers Begin a *Tx
// (a private copy), mutate it, and Publish the frozen result to the Store,
// so readers such as the aggregate engine never observe a half-applied
// mutation.
package membership

import (
	"sort"

	"github.com/arborhq/arbor/internal/types"
)

// Tree is an immutable membership snapshot of one tree.
type Tree struct {
	id       string
	schema   *types.TreeSchema
	edges    map[string]*types.MembershipEdge
	children map[string][]string // parent id ("" = root) -> children in rank order
	nextRank int64
}

// NewTree creates an empty snapshot for schema.
func NewTree(schema *types.TreeSchema) *Tree {
	return &Tree{
		id:       schema.ID,
		schema:   schema,
		edges:    make(map[string]*types.MembershipEdge),
		children: make(map[string][]string),
		nextRank: 1,
	}
}

// FromEdges rebuilds a snapshot from persisted edges.
func FromEdges(schema *types.TreeSchema, edges []*types.MembershipEdge) *Tree {
	t := NewTree(schema)
	sorted := append([]*types.MembershipEdge(nil), edges...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	for _, e := range sorted {
		c := *e
		c.TreeID = schema.ID
		t.edges[c.CardID] = &c
		t.children[c.ParentID] = append(t.children[c.ParentID], c.CardID)
		if c.Rank >= t.nextRank {
			t.nextRank = c.Rank + 1
		}
	}
	return t
}

// ID returns the tree id.
func (t *Tree) ID() string { return t.id }

// Schema returns the schema this snapshot was built against.
func (t *Tree) Schema() *types.TreeSchema { return t.schema }

// Len returns the number of members.
func (t *Tree) Len() int { return len(t.edges) }

// IsMember reports whether cardID is in the tree.
func (t *Tree) IsMember(cardID string) bool {
	_, ok := t.edges[cardID]
	return ok
}

// Edge returns a copy of the card's edge.
func (t *Tree) Edge(cardID string) (types.MembershipEdge, bool) {
	e, ok := t.edges[cardID]
	if !ok {
		return types.MembershipEdge{}, false
	}
	return *e, true
}

// Parent returns the card's parent ("" for a root-level member).
func (t *Tree) Parent(cardID string) (string, bool) {
	e, ok := t.edges[cardID]
	if !ok {
		return "", false
	}
	return e.ParentID, true
}

// LevelOf returns the schema level of a member, or -1.
func (t *Tree) LevelOf(cardID string) int {
	e, ok := t.edges[cardID]
	if !ok {
		return -1
	}
	return t.schema.LevelOf(e.CardType)
}

// Children returns the direct children of parentID in rank order. An empty
// parentID returns the root-level members.
func (t *Tree) Children(parentID string) []string {
	return append([]string(nil), t.children[parentID]...)
}

// AncestorChain returns the card's ancestors, root first.
func (t *Tree) AncestorChain(cardID string) []string {
	var chain []string
	e, ok := t.edges[cardID]
	for ok && e.ParentID != "" {
		chain = append(chain, e.ParentID)
		e, ok = t.edges[e.ParentID]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// AncestorAt returns the chain ancestor (or the card itself) whose type is
// the given level.
func (t *Tree) AncestorAt(cardID string, level int) (string, bool) {
	if level < 0 || level >= len(t.schema.Levels) {
		return "", false
	}
	want := t.schema.Levels[level].CardType
	e, ok := t.edges[cardID]
	for ok {
		if e.CardType == want {
			return e.CardID, true
		}
		if e.ParentID == "" {
			break
		}
		e, ok = t.edges[e.ParentID]
	}
	return "", false
}

// Descendants returns the members selected by scope below cardID, in
// depth-first rank order. cardID itself is never included.
func (t *Tree) Descendants(cardID string, scope types.Scope) []string {
	if scope.Kind == types.ScopeDirectChildren {
		return t.Children(cardID)
	}
	var out []string
	t.walk(cardID, func(id string) {
		if id == cardID {
			return
		}
		if scope.Kind == types.ScopeCardType && t.edges[id].CardType != scope.CardType {
			return
		}
		out = append(out, id)
	})
	return out
}

// Subtree returns cardID and all its descendants, depth-first.
func (t *Tree) Subtree(cardID string) []string {
	if !t.IsMember(cardID) {
		return nil
	}
	var out []string
	t.walk(cardID, func(id string) { out = append(out, id) })
	return out
}

func (t *Tree) walk(cardID string, visit func(string)) {
	stack := []string{cardID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(id)
		kids := t.children[id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
}

// MembersOfType returns every member of cardType, depth-first from the roots.
func (t *Tree) MembersOfType(cardType string) []string {
	var out []string
	for _, root := range t.children[""] {
		t.walk(root, func(id string) {
			if t.edges[id].CardType == cardType {
				out = append(out, id)
			}
		})
	}
	return out
}

// Edges returns copies of every edge sorted by rank.
func (t *Tree) Edges() []*types.MembershipEdge {
	out := make([]*types.MembershipEdge, 0, len(t.edges))
	for _, e := range t.edges {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

func (t *Tree) clone() *Tree {
	c := &Tree{
		id:       t.id,
		schema:   t.schema,
		edges:    make(map[string]*types.MembershipEdge, len(t.edges)),
		children: make(map[string][]string, len(t.children)),
		nextRank: t.nextRank,
	}
	for k, e := range t.edges {
		ec := *e
		c.edges[k] = &ec
	}
	for k, kids := range t.children {
		c.children[k] = append([]string(nil), kids...)
	}
	return c
}
