package membership

import (
	"fmt"

	"github.com/arborhq/arbor/internal/types"
)

// Tx is a private, mutable copy of a snapshot. It performs no type checks;
// callers validate before mutating. Nothing is visible to readers until the
// frozen tree is published.
type Tx struct {
	t      *Tree
	frozen bool
}

// Begin starts a copy-on-write transaction on the snapshot.
func (t *Tree) Begin() *Tx {
	return &Tx{t: t.clone()}
}

// View exposes the in-progress tree for reads.
func (tx *Tx) View() *Tree { return tx.t }

// Freeze ends the transaction and returns the new snapshot.
func (tx *Tx) Freeze() *Tree {
	tx.frozen = true
	return tx.t
}

func (tx *Tx) check() {
	if tx.frozen {
		panic("membership: write to frozen transaction")
	}
}

// SetSchema swaps the schema the tree is validated against.
func (tx *Tx) SetSchema(s *types.TreeSchema) {
	tx.check()
	tx.t.schema = s
}

// Attach adds a non-member at the end of parentID's children.
func (tx *Tx) Attach(cardID, cardType, parentID string) error {
	tx.check()
	if _, ok := tx.t.edges[cardID]; ok {
		return fmt.Errorf("card %s is already attached", cardID)
	}
	if parentID != "" && !tx.t.IsMember(parentID) {
		return fmt.Errorf("parent %s is not attached", parentID)
	}
	tx.t.edges[cardID] = &types.MembershipEdge{
		TreeID:   tx.t.id,
		CardID:   cardID,
		ParentID: parentID,
		CardType: cardType,
		Rank:     tx.takeRank(),
	}
	tx.t.children[parentID] = append(tx.t.children[parentID], cardID)
	return nil
}

// Detach removes a single edge. Children of cardID are left pointing at it,
// so callers must promote or detach them first.
func (tx *Tx) Detach(cardID string) {
	tx.check()
	e, ok := tx.t.edges[cardID]
	if !ok {
		return
	}
	tx.unlink(e.ParentID, cardID)
	delete(tx.t.edges, cardID)
	if len(tx.t.children[cardID]) == 0 {
		delete(tx.t.children, cardID)
	}
}

// DetachSubtree removes cardID and every descendant and returns them.
func (tx *Tx) DetachSubtree(cardID string) []string {
	tx.check()
	removed := tx.t.Subtree(cardID)
	for i := len(removed) - 1; i >= 0; i-- {
		tx.Detach(removed[i])
	}
	return removed
}

// Reparent moves cardID (with its subtree) to the end of newParentID's
// children.
func (tx *Tx) Reparent(cardID, newParentID string) error {
	tx.check()
	e, ok := tx.t.edges[cardID]
	if !ok {
		return fmt.Errorf("card %s is not attached", cardID)
	}
	if newParentID != "" && !tx.t.IsMember(newParentID) {
		return fmt.Errorf("parent %s is not attached", newParentID)
	}
	for _, a := range tx.t.AncestorChain(newParentID) {
		if a == cardID {
			return fmt.Errorf("cannot move %s below its own descendant %s", cardID, newParentID)
		}
	}
	if newParentID == cardID {
		return fmt.Errorf("cannot move %s below itself", cardID)
	}
	tx.unlink(e.ParentID, cardID)
	e.ParentID = newParentID
	e.Rank = tx.takeRank()
	tx.t.children[newParentID] = append(tx.t.children[newParentID], cardID)
	return nil
}

// PromoteChildren moves every child of cardID to cardID's parent, appended
// after the parent's existing children in their current relative order.
func (tx *Tx) PromoteChildren(cardID string) []string {
	tx.check()
	e, ok := tx.t.edges[cardID]
	if !ok {
		return nil
	}
	kids := append([]string(nil), tx.t.children[cardID]...)
	for _, k := range kids {
		ke := tx.t.edges[k]
		ke.ParentID = e.ParentID
		ke.Rank = tx.takeRank()
		tx.t.children[e.ParentID] = append(tx.t.children[e.ParentID], k)
	}
	delete(tx.t.children, cardID)
	return kids
}

// Reorder moves cardID to position index among its siblings and renumbers
// the sibling ranks to match the new order.
func (tx *Tx) Reorder(cardID string, index int) error {
	tx.check()
	e, ok := tx.t.edges[cardID]
	if !ok {
		return fmt.Errorf("card %s is not attached", cardID)
	}
	siblings := tx.t.children[e.ParentID]
	if index < 0 || index >= len(siblings) {
		return fmt.Errorf("position %d out of range [0,%d)", index, len(siblings))
	}
	without := make([]string, 0, len(siblings))
	for _, s := range siblings {
		if s != cardID {
			without = append(without, s)
		}
	}
	ordered := make([]string, 0, len(siblings))
	ordered = append(ordered, without[:index]...)
	ordered = append(ordered, cardID)
	ordered = append(ordered, without[index:]...)
	for _, s := range ordered {
		tx.t.edges[s].Rank = tx.takeRank()
	}
	tx.t.children[e.ParentID] = ordered
	return nil
}

func (tx *Tx) unlink(parentID, cardID string) {
	kids := tx.t.children[parentID]
	for i, k := range kids {
		if k == cardID {
			tx.t.children[parentID] = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	if len(tx.t.children[parentID]) == 0 {
		delete(tx.t.children, parentID)
	}
}

func (tx *Tx) takeRank() int64 {
	r := tx.t.nextRank
	tx.t.nextRank++
	return r
}
