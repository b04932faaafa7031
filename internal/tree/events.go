package tree

import (
	"context"

	"github.com/arborhq/arbor/internal/eventbus"
)

// cardEventHandler reacts to card store events.
// Priority 10 (runs before the event log so the log sees affected trees).
type cardEventHandler struct {
	e *Engine
}

func (h *cardEventHandler) ID() string { return "tree-engine" }
func (h *cardEventHandler) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventCardTypeChanged, eventbus.EventCardPropertyChanged}
}
func (h *cardEventHandler) Priority() int { return 10 }

func (h *cardEventHandler) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	switch event.Type {
	case eventbus.EventCardTypeChanged:
		trees, err := h.e.OnCardTypeChanged(ctx, event.CardID, event.NewType)
		result.Trees = append(result.Trees, trees...)
		return err
	case eventbus.EventCardPropertyChanged:
		result.Trees = append(result.Trees, h.e.NotifyPropertyChanged(ctx, event.CardID, event.Property)...)
	}
	return nil
}
