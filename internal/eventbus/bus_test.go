package eventbus

import (
	"context"
	"errors"
	"testing"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event, result *Result) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if h.fn != nil {
		return h.fn(ctx, event, result)
	}
	return nil
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New()
	if _, err := bus.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDispatchMatchingHandlers(t *testing.T) {
	bus := New()
	var called []string

	bus.Register(&testHandler{
		id:       "type-changes",
		handles:  []EventType{EventCardTypeChanged},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "type-changes")
			return nil
		},
	})
	bus.Register(&testHandler{
		id:       "property-changes",
		handles:  []EventType{EventCardPropertyChanged},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "property-changes")
			return nil
		},
	})

	if _, err := bus.Dispatch(context.Background(), &Event{Type: EventCardTypeChanged, CardID: "S1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "type-changes" {
		t.Errorf("expected [type-changes], got %v", called)
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var order []string
	for _, h := range []struct {
		name string
		prio int
	}{{"low", 100}, {"high", 1}, {"medium", 50}} {
		name := h.name
		bus.Register(&testHandler{
			id:       name,
			handles:  []EventType{EventTreeMutated},
			priority: h.prio,
			fn: func(ctx context.Context, event *Event, result *Result) error {
				order = append(order, name)
				return nil
			},
		})
	}

	if _, err := bus.Dispatch(context.Background(), &Event{Type: EventTreeMutated}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"high", "medium", "low"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d handlers, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %q, got %q", i, v, order[i])
		}
	}
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New()
	secondCalled := false

	bus.Register(&testHandler{
		id:       "failing",
		handles:  []EventType{EventCardTypeChanged},
		priority: 1,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			return errors.New("boom")
		},
	})
	bus.Register(&testHandler{
		id:       "second",
		handles:  []EventType{EventCardTypeChanged},
		priority: 2,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			secondCalled = true
			result.Trees = append(result.Trees, "t1")
			return nil
		},
	})

	result, err := bus.Dispatch(context.Background(), &Event{Type: EventCardTypeChanged})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !secondCalled {
		t.Error("second handler should run after a failing one")
	}
	if len(result.Errors) != 1 || result.Errors[0] != "failing: boom" {
		t.Errorf("Errors = %v", result.Errors)
	}
	if len(result.Trees) != 1 || result.Trees[0] != "t1" {
		t.Errorf("Trees = %v", result.Trees)
	}
}

func TestDispatchCancelledContext(t *testing.T) {
	bus := New()
	bus.Register(&FuncHandler{
		Name:  "never",
		Types: []EventType{EventTreeMutated},
		Fn: func(ctx context.Context, event *Event, result *Result) error {
			t.Error("handler ran with a cancelled context")
			return nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bus.Dispatch(ctx, &Event{Type: EventTreeMutated}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestEventCategories(t *testing.T) {
	if !EventCardTypeChanged.IsCardEvent() || EventCardTypeChanged.IsTreeEvent() {
		t.Error("card.type_changed should be a card event only")
	}
	if !EventAggregateRunDone.IsTreeEvent() || EventAggregateRunDone.IsCardEvent() {
		t.Error("aggregate.run_done should be a tree event only")
	}
}

func TestDescribe(t *testing.T) {
	got := describe(&Event{Op: "set-type", OldType: "Story", NewType: "Defect"}, &Result{Trees: []string{"t1", "t2"}})
	want := "op=set-type type=Story->Defect trees=t1,t2"
	if got != want {
		t.Errorf("describe = %q, want %q", got, want)
	}
}
