package tree

import (
	"context"
	"fmt"

	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/propagate"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

// AddToTree places cardID under parentID, or at the root level when
// parentID is empty. Adding a card under its current parent is a no-op.
func (e *Engine) AddToTree(ctx context.Context, ref, cardID, parentID string) error {
	card, err := e.cards.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	return e.mutate(ctx, ref, "add", func(before *membership.Tree) (*outcome, error) {
		s := before.Schema()
		level := s.LevelOf(card.Type)
		if level < 0 {
			return nil, &types.TypeMismatchError{TreeID: s.ID, CardID: cardID, CardType: card.Type, Reason: "card type is not part of the tree"}
		}
		if before.IsMember(cardID) {
			cur, _ := before.Parent(cardID)
			if cur == parentID {
				return nil, nil
			}
			return nil, &types.AlreadyMemberElsewhereError{TreeID: s.ID, CardID: cardID, CurrentParentID: cur, WantedParentID: parentID}
		}
		if err := checkParent(before, cardID, card.Type, level, parentID); err != nil {
			return nil, err
		}
		tx := before.Begin()
		if err := tx.Attach(cardID, card.Type, parentID); err != nil {
			return nil, err
		}
		return &outcome{op: "add", card: cardID, next: tx.Freeze(), affected: []string{cardID}, points: []string{cardID}}, nil
	})
}

// MoveTo re-parents cardID together with its subtree. Moving a card under
// its current parent is a no-op.
func (e *Engine) MoveTo(ctx context.Context, ref, cardID, newParentID string) error {
	return e.mutate(ctx, ref, "move", func(before *membership.Tree) (*outcome, error) {
		s := before.Schema()
		edge, ok := before.Edge(cardID)
		if !ok {
			return nil, &types.NotAMemberError{TreeID: s.ID, CardID: cardID}
		}
		if edge.ParentID == newParentID {
			return nil, nil
		}
		if err := checkParent(before, cardID, edge.CardType, s.LevelOf(edge.CardType), newParentID); err != nil {
			return nil, err
		}
		tx := before.Begin()
		if err := tx.Reparent(cardID, newParentID); err != nil {
			return nil, &types.ValidationError{TreeID: s.ID, Field: "parent", Reason: err.Error()}
		}
		return &outcome{op: "move", card: cardID, next: tx.Freeze(), affected: before.Subtree(cardID), points: []string{cardID}}, nil
	})
}

// checkParent enforces the structural rule: the parent of a level L card is
// a member of level L-1, and only first-level cards sit at the root.
func checkParent(t *membership.Tree, cardID, cardType string, level int, parentID string) error {
	s := t.Schema()
	if parentID == "" {
		if level != 0 {
			return &types.TypeMismatchError{TreeID: s.ID, CardID: cardID, CardType: cardType, ExpectedType: s.Levels[0].CardType,
				Reason: "only cards of the first level can be placed at the root"}
		}
		return nil
	}
	pe, ok := t.Edge(parentID)
	if !ok {
		return &types.NotAMemberError{TreeID: s.ID, CardID: parentID}
	}
	if level == 0 || s.LevelOf(pe.CardType) != level-1 {
		want := ""
		if level > 0 {
			want = s.Levels[level-1].CardType
		}
		return &types.TypeMismatchError{TreeID: s.ID, CardID: parentID, CardType: pe.CardType, ExpectedType: want,
			Reason: fmt.Sprintf("a %s must be placed directly under a card of the preceding level", cardType)}
	}
	return nil
}

// RemoveFromTree detaches cardID. JustThisCard promotes its children to its
// former parent; WithChildren detaches the whole subtree. Cards themselves
// are never deleted.
func (e *Engine) RemoveFromTree(ctx context.Context, ref, cardID string, mode types.CascadeMode) error {
	if !mode.IsValid() {
		return types.Invalid("cascade", "unknown cascade mode %q", mode)
	}
	return e.mutate(ctx, ref, "remove", func(before *membership.Tree) (*outcome, error) {
		if !before.IsMember(cardID) {
			return nil, &types.NotAMemberError{TreeID: before.ID(), CardID: cardID}
		}
		return removeCard(before, cardID, mode), nil
	})
}

func removeCard(before *membership.Tree, cardID string, mode types.CascadeMode) *outcome {
	tx := before.Begin()
	out := &outcome{op: "remove", card: cardID, points: []string{cardID}}
	if mode == types.WithChildren {
		removed := tx.DetachSubtree(cardID)
		out.affected = removed
		out.detached = removed
	} else {
		promoted := tx.PromoteChildren(cardID)
		tx.Detach(cardID)
		out.affected = []string{cardID}
		for _, k := range promoted {
			out.affected = append(out.affected, before.Subtree(k)...)
		}
		out.points = append(out.points, promoted...)
		out.detached = []string{cardID}
	}
	out.next = tx.Freeze()
	return out
}

// Reorder moves cardID to position index among its siblings.
func (e *Engine) Reorder(ctx context.Context, ref, cardID string, index int) error {
	return e.mutate(ctx, ref, "reorder", func(before *membership.Tree) (*outcome, error) {
		if !before.IsMember(cardID) {
			return nil, &types.NotAMemberError{TreeID: before.ID(), CardID: cardID}
		}
		tx := before.Begin()
		if err := tx.Reorder(cardID, index); err != nil {
			return nil, &types.ValidationError{TreeID: before.ID(), Field: "position", Reason: err.Error()}
		}
		return &outcome{op: "reorder", card: cardID, next: tx.Freeze()}, nil
	})
}

// SetRelationshipProperties assigns relationship properties of cardID
// directly. values maps property name to a card id; an empty id clears the
// property. The assignment is turned into a placement: the deepest set
// property picks the parent and the others must agree with its chain.
func (e *Engine) SetRelationshipProperties(ctx context.Context, ref, cardID string, values map[string]string) error {
	card, err := e.cards.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	return e.mutate(ctx, ref, "set-properties", func(before *membership.Tree) (*outcome, error) {
		p, err := propagate.Resolve(before, propagate.Request{CardID: cardID, CardType: card.Type, Values: values})
		if err != nil {
			return nil, err
		}
		if !p.Place {
			return nil, nil
		}
		tx := before.Begin()
		if edge, ok := before.Edge(cardID); ok {
			if edge.ParentID == p.ParentID {
				return nil, nil
			}
			if err := tx.Reparent(cardID, p.ParentID); err != nil {
				return nil, &types.ValidationError{TreeID: before.ID(), Field: "parent", Reason: err.Error()}
			}
		} else if err := tx.Attach(cardID, card.Type, p.ParentID); err != nil {
			return nil, err
		}
		next := tx.Freeze()
		return &outcome{op: "set-properties", card: cardID, next: next, affected: next.Subtree(cardID), points: []string{cardID}}, nil
	})
}

// OnCardTypeChanged detaches cardID from every tree in which its new type no
// longer matches its level, promoting its children. It returns the ids of
// the trees it changed.
func (e *Engine) OnCardTypeChanged(ctx context.Context, cardID, newType string) ([]string, error) {
	var changed []string
	for _, treeID := range e.members.TreesContaining(cardID) {
		touched := false
		err := e.mutate(ctx, treeID, "type-changed", func(before *membership.Tree) (*outcome, error) {
			edge, ok := before.Edge(cardID)
			if !ok || edge.CardType == newType {
				return nil, nil
			}
			touched = true
			return removeCard(before, cardID, types.JustThisCard), nil
		})
		if err != nil {
			return changed, fmt.Errorf("tree %s: %w", treeID, err)
		}
		if touched {
			changed = append(changed, treeID)
		}
	}
	return changed, nil
}

// NotifyPropertyChanged marks the ancestors of cardID dirty in every tree
// where an aggregate folds property. The marks are persisted before they
// enter the dirty set; a persistence failure is logged and the in-memory
// marks still drive the next run of this process.
func (e *Engine) NotifyPropertyChanged(ctx context.Context, cardID, property string) []string {
	var marked []string
	for _, treeID := range e.members.TreesContaining(cardID) {
		if e.notifyTree(ctx, treeID, cardID, property) {
			marked = append(marked, treeID)
		}
	}
	return marked
}

func (e *Engine) notifyTree(ctx context.Context, treeID, cardID, property string) bool {
	uses := false
	for _, d := range e.aggs.ForTree(treeID) {
		if d.SourceProperty == property {
			uses = true
			break
		}
	}
	if !uses {
		return false
	}
	unlock := e.members.Lock(treeID)
	defer unlock()
	t, ok := e.members.Snapshot(treeID)
	if !ok || !t.IsMember(cardID) {
		return false
	}
	marks := &storage.DirtyMarks{Cards: t.AncestorChain(cardID)}
	if e.persist != nil {
		if err := e.persist.MarkDirty(ctx, treeID, marks); err != nil {
			debug.Logf("tree: persisting dirty marks of %s failed: %v\n", treeID, err)
		}
	}
	e.mark(treeID, marks)
	return true
}
