package tree

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/arborhq/arbor/internal/aggregate"
	"github.com/arborhq/arbor/internal/eventbus"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

// DefineAggregate validates def against the tree, defines its property on
// the node type and schedules a full recomputation of the tree.
func (e *Engine) DefineAggregate(ctx context.Context, ref string, def types.AggregateDefinition) (*types.AggregateDefinition, error) {
	s, err := e.Schema(ref)
	if err != nil {
		return nil, err
	}
	unlock := e.members.Lock(s.ID)
	defer unlock()

	prepared, err := e.aggs.Prepare(s, def)
	if err != nil {
		return nil, err
	}
	if err := e.checkAggregateName(ctx, s.ID, prepared.Name); err != nil {
		return nil, err
	}
	if err := e.cards.DefineProperty(ctx, types.PropertyDefinition{
		Name:      prepared.Name,
		Kind:      types.PropertyAggregate,
		CardTypes: []string{prepared.NodeType},
	}); err != nil {
		return nil, fmt.Errorf("define aggregate property %s: %w", prepared.Name, err)
	}
	t, _ := e.members.Snapshot(s.ID)
	defs := append(e.aggs.ForTree(s.ID), prepared)
	full := &storage.DirtyMarks{Full: true}
	if err := e.saveLocked(ctx, s, t, defs, full); err != nil {
		_ = e.cards.DropProperty(ctx, prepared.Name)
		return nil, err
	}
	e.aggs.Add(prepared)
	e.mark(s.ID, full)
	e.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("arbor.op", "aggregate.define")))
	return prepared, nil
}

// checkAggregateName rejects a name that the card store already defines
// (user properties, aggregates of other trees) or that a relationship
// property of any tree uses. The aggregate owns its property outright:
// removing the definition drops every stored value.
func (e *Engine) checkAggregateName(ctx context.Context, treeID, name string) error {
	for _, other := range e.schemas.List() {
		for _, p := range other.Properties() {
			if strings.EqualFold(p, name) {
				return &types.ValidationError{TreeID: treeID, Field: "name",
					Reason: fmt.Sprintf("collides with relationship property %s of tree %s", p, other.Name)}
			}
		}
	}
	existing, err := e.cards.LookupProperty(ctx, name)
	if err != nil {
		return fmt.Errorf("look up property %s: %w", name, err)
	}
	if existing != nil {
		return &types.ValidationError{TreeID: treeID, Field: "name",
			Reason: fmt.Sprintf("property %s is already defined as a %s property", existing.Name, existing.Kind)}
	}
	return nil
}

// RemoveAggregate deletes a definition, by id or name, and its property.
func (e *Engine) RemoveAggregate(ctx context.Context, ref, idOrName string) error {
	s, err := e.Schema(ref)
	if err != nil {
		return err
	}
	unlock := e.members.Lock(s.ID)
	defer unlock()

	def, ok := e.aggs.Lookup(s.ID, idOrName)
	if !ok {
		return fmt.Errorf("aggregate %q in tree %s: %w", idOrName, s.Name, types.ErrNotFound)
	}
	defs := make([]*types.AggregateDefinition, 0)
	for _, d := range e.aggs.ForTree(s.ID) {
		if d.ID != def.ID {
			defs = append(defs, d)
		}
	}
	t, _ := e.members.Snapshot(s.ID)
	if err := e.saveLocked(ctx, s, t, defs, nil); err != nil {
		return err
	}
	if err := e.cards.DropProperty(ctx, def.Name); err != nil {
		return fmt.Errorf("drop aggregate property %s: %w", def.Name, err)
	}
	e.aggs.Remove(def.ID)
	e.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("arbor.op", "aggregate.remove")))
	return nil
}

// Aggregates lists the definitions of a tree sorted by name.
func (e *Engine) Aggregates(ref string) ([]*types.AggregateDefinition, error) {
	s, err := e.Schema(ref)
	if err != nil {
		return nil, err
	}
	return e.aggs.ForTree(s.ID), nil
}

// RunOnce recomputes stale aggregate values of one tree, or of every tree
// with pending work when ref is empty.
func (e *Engine) RunOnce(ctx context.Context, ref string) (*aggregate.RunSummary, error) {
	id := ""
	if ref != "" {
		s, err := e.Schema(ref)
		if err != nil {
			return nil, err
		}
		id = s.ID
	}
	e.emit(ctx, &eventbus.Event{Type: eventbus.EventAggregateRunStart, TreeID: id})
	sum, err := e.runner.RunOnce(ctx, id)
	if sum != nil {
		for _, r := range sum.Trees {
			e.emit(ctx, &eventbus.Event{Type: eventbus.EventAggregateRunDone, TreeID: r.TreeID,
				Detail: fmt.Sprintf("written=%d cleared=%d errors=%d", r.Written, r.Cleared, len(r.Errors))})
		}
	}
	return sum, err
}
