package eventbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/arborhq/arbor/internal/debug"
)

// EventLogHandler appends every event to the workspace event log.
// Priority 100 (runs last, after handlers that react to the event).
type EventLogHandler struct{}

func (h *EventLogHandler) ID() string { return "event-log" }
func (h *EventLogHandler) Handles() []EventType {
	return []EventType{
		EventCardTypeChanged, EventCardPropertyChanged,
		EventTreeMutated, EventSchemaChanged,
		EventAggregateRunDone,
	}
}
func (h *EventLogHandler) Priority() int { return 100 }

func (h *EventLogHandler) Handle(_ context.Context, event *Event, result *Result) error {
	debug.LogEvent(string(event.Type), event.TreeID, event.CardID, describe(event, result))
	return nil
}

func describe(e *Event, r *Result) string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.OldType != "" || e.NewType != "" {
		parts = append(parts, fmt.Sprintf("type=%s->%s", e.OldType, e.NewType))
	}
	if e.Property != "" {
		parts = append(parts, "property="+e.Property)
	}
	if len(r.Trees) > 0 {
		parts = append(parts, "trees="+strings.Join(r.Trees, ","))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return strings.Join(parts, " ")
}

// FuncHandler adapts a function into a Handler.
type FuncHandler struct {
	Name  string
	Types []EventType
	Order int
	Fn    func(ctx context.Context, event *Event, result *Result) error
}

func (h *FuncHandler) ID() string           { return h.Name }
func (h *FuncHandler) Handles() []EventType { return h.Types }
func (h *FuncHandler) Priority() int        { return h.Order }

func (h *FuncHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	return h.Fn(ctx, event, result)
}
