package tree

import (
	"context"

	"github.com/arborhq/arbor/internal/types"
)

// RemoveAction is a removal choice offered to users for one card.
type RemoveAction struct {
	Mode  types.CascadeMode `json:"mode"`
	Label string            `json:"label"`
}

// AvailableRemoveActions lists the removal modes that make sense for
// cardID. Cards of the leaf type have no children, so only
// JustThisCard is offered for them.
func (e *Engine) AvailableRemoveActions(ref, cardID string) ([]RemoveAction, error) {
	t, err := e.Snapshot(ref)
	if err != nil {
		return nil, err
	}
	edge, ok := t.Edge(cardID)
	if !ok {
		return nil, &types.NotAMemberError{TreeID: t.ID(), CardID: cardID}
	}
	actions := []RemoveAction{{Mode: types.JustThisCard, Label: "Remove card only"}}
	if !t.Schema().IsLeafType(edge.CardType) {
		actions = append(actions, RemoveAction{Mode: types.WithChildren, Label: "Remove card and its children"})
	}
	return actions, nil
}

// RunRemoveAction removes cardID with mode after checking that mode is one
// of the available actions.
func (e *Engine) RunRemoveAction(ctx context.Context, ref, cardID string, mode types.CascadeMode) error {
	actions, err := e.AvailableRemoveActions(ref, cardID)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.Mode == mode {
			return e.RemoveFromTree(ctx, ref, cardID, mode)
		}
	}
	return types.Invalid("mode", "%s is not available for card %s", mode, cardID)
}
