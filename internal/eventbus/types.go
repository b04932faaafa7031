package eventbus

import (
	"time"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Card events are published by the card store side.
	EventCardTypeChanged     EventType = "card.type_changed"
	EventCardPropertyChanged EventType = "card.property_changed"

	// Tree events are published by the engine after a committed change.
	EventTreeMutated       EventType = "tree.mutated"
	EventSchemaChanged     EventType = "tree.schema_changed"
	EventAggregateRunStart EventType = "aggregate.run_started"
	EventAggregateRunDone  EventType = "aggregate.run_done"
)

// Event is a single notification flowing through the bus. Only the fields
// meaningful for Type are populated.
type Event struct {
	Type   EventType `json:"type"`
	TreeID string    `json:"tree_id,omitempty"`
	CardID string    `json:"card_id,omitempty"`

	// Card type changes.
	OldType string `json:"old_type,omitempty"`
	NewType string `json:"new_type,omitempty"`

	// Property changes.
	Property string `json:"property,omitempty"`

	// Op names the mutation for tree events (add, move, remove, ...).
	Op     string    `json:"op,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// IsCardEvent reports whether the event originates from the card store.
func (t EventType) IsCardEvent() bool {
	switch t {
	case EventCardTypeChanged, EventCardPropertyChanged:
		return true
	}
	return false
}

// IsTreeEvent reports whether the event is published by the tree engine.
func (t EventType) IsTreeEvent() bool {
	switch t {
	case EventTreeMutated, EventSchemaChanged,
		EventAggregateRunStart, EventAggregateRunDone:
		return true
	}
	return false
}

// Result aggregates handler responses for an event.
type Result struct {
	// Trees lists the trees a handler changed in response to the event.
	Trees    []string `json:"trees,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}
