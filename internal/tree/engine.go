// Package tree is the structural mutation API of arbor. It owns the schema
// registry, the membership store and the aggregate registry, validates every
// change against them, keeps relationship properties in step with membership
// and marks the aggregate dirty set.
//
// Every mutation of a tree runs under that tree's writer lock, computes the
// next membership snapshot and the property writes it implies, persists both
// and only then publishes the snapshot. A failed step leaves the published
// state untouched.
package tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arborhq/arbor/internal/aggregate"
	"github.com/arborhq/arbor/internal/cards"
	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/eventbus"
	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/propagate"
	"github.com/arborhq/arbor/internal/schema"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/telemetry"
	"github.com/arborhq/arbor/internal/types"
)

const scopeName = "github.com/arborhq/arbor/tree"

// Options configure an Engine.
type Options struct {
	// Aggregate tunes RunOnce.
	Aggregate aggregate.Options
	// Bus receives tree events and delivers card events. Optional.
	Bus *eventbus.Bus
}

// Engine is the entry point for every tree operation.
type Engine struct {
	cards   cards.Store
	persist storage.Persister

	schemas *schema.Registry
	members *membership.Store
	aggs    *aggregate.Registry
	dirty   *aggregate.DirtySet
	runner  *aggregate.Engine
	bus     *eventbus.Bus

	mu        sync.RWMutex
	reporters []DependentReporter

	tracer    trace.Tracer
	mutations metric.Int64Counter
}

// Open loads persisted trees from persist (which may be nil for a purely
// in-memory engine) and returns a ready engine.
func Open(ctx context.Context, store cards.Store, persist storage.Persister, opts Options) (*Engine, error) {
	e := &Engine{
		cards:   store,
		persist: persist,
		schemas: schema.NewRegistry(),
		members: membership.NewStore(),
		aggs:    aggregate.NewRegistry(),
		dirty:   aggregate.NewDirtySet(),
		bus:     opts.Bus,
		tracer:  telemetry.Tracer(scopeName),
	}
	e.mutations, _ = telemetry.Meter(scopeName).Int64Counter("arbor.mutations",
		metric.WithDescription("Committed tree mutations by operation"),
	)
	if persist != nil {
		opts.Aggregate.Journal = journal{persist}
	}
	e.runner = aggregate.NewEngine(store, e.members, e.aggs, e.dirty, opts.Aggregate)

	if persist != nil {
		states, err := persist.LoadTrees(ctx)
		if err != nil {
			return nil, fmt.Errorf("load trees: %w", err)
		}
		var (
			schemas []*types.TreeSchema
			defs    []*types.AggregateDefinition
			pending int
		)
		for _, st := range states {
			schemas = append(schemas, st.Schema)
			defs = append(defs, st.Aggregates...)
			e.members.Publish(membership.FromEdges(st.Schema, st.Edges))
			if !st.Dirty.Empty() {
				e.mark(st.Schema.ID, st.Dirty)
				pending++
			}
		}
		e.schemas.Load(schemas)
		e.aggs.Load(defs)
		debug.Logf("tree: loaded %d trees (%d with pending aggregate work), %d aggregate definitions\n", len(schemas), pending, len(defs))
	}

	if e.bus != nil {
		e.bus.Register(&cardEventHandler{e: e})
	}
	return e, nil
}

// Dirty exposes the aggregate dirty set, e.g. for a background scheduler.
func (e *Engine) Dirty() *aggregate.DirtySet { return e.dirty }

// mark copies persisted marks into the dirty set.
func (e *Engine) mark(treeID string, m *storage.DirtyMarks) {
	if m.Empty() {
		return
	}
	if m.Full {
		e.dirty.MarkFull(treeID)
	}
	e.dirty.MarkCards(treeID, m.Cards...)
	e.dirty.MarkDetached(treeID, m.Detached...)
}

// journal clears persisted marks once the aggregate engine has consumed
// them.
type journal struct {
	p storage.Persister
}

func (j journal) ClearDirty(ctx context.Context, treeID string, done *aggregate.Dirty) error {
	return j.p.ClearDirty(ctx, treeID, &storage.DirtyMarks{Full: done.Full, Cards: done.CardIDs(), Detached: done.DetachedIDs()})
}

// Schema resolves a tree by id or case-insensitive name.
func (e *Engine) Schema(ref string) (*types.TreeSchema, error) {
	s, ok := e.schemas.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("tree %q: %w", ref, types.ErrNotFound)
	}
	return s, nil
}

// Schemas returns every tree schema sorted by name.
func (e *Engine) Schemas() []*types.TreeSchema { return e.schemas.List() }

// Snapshot returns the current membership snapshot of a tree.
func (e *Engine) Snapshot(ref string) (*membership.Tree, error) {
	s, err := e.Schema(ref)
	if err != nil {
		return nil, err
	}
	t, ok := e.members.Snapshot(s.ID)
	if !ok {
		return nil, fmt.Errorf("tree %q: %w", ref, types.ErrNotFound)
	}
	return t, nil
}

// TreesContaining returns the ids of trees in which cardID is a member.
func (e *Engine) TreesContaining(cardID string) []string {
	return e.members.TreesContaining(cardID)
}

// AncestorChain returns the ancestors of cardID, root first.
func (e *Engine) AncestorChain(ref, cardID string) ([]string, error) {
	t, err := e.Snapshot(ref)
	if err != nil {
		return nil, err
	}
	if !t.IsMember(cardID) {
		return nil, &types.NotAMemberError{TreeID: t.ID(), CardID: cardID}
	}
	return t.AncestorChain(cardID), nil
}

// Descendants returns the members below cardID selected by scope, in
// depth-first rank order.
func (e *Engine) Descendants(ref, cardID string, scope types.Scope) ([]string, error) {
	t, err := e.Snapshot(ref)
	if err != nil {
		return nil, err
	}
	if !t.IsMember(cardID) {
		return nil, &types.NotAMemberError{TreeID: t.ID(), CardID: cardID}
	}
	return t.Descendants(cardID, scope), nil
}

// Children returns the direct children of parentID in rank order; an empty
// parentID lists the root-level members.
func (e *Engine) Children(ref, parentID string) ([]string, error) {
	t, err := e.Snapshot(ref)
	if err != nil {
		return nil, err
	}
	if parentID != "" && !t.IsMember(parentID) {
		return nil, &types.NotAMemberError{TreeID: t.ID(), CardID: parentID}
	}
	return t.Children(parentID), nil
}

// Members returns every membership edge of the tree in rank order.
func (e *Engine) Members(ref string) ([]*types.MembershipEdge, error) {
	t, err := e.Snapshot(ref)
	if err != nil {
		return nil, err
	}
	return t.Edges(), nil
}

// outcome describes what a structural mutation changed.
type outcome struct {
	op   string
	card string
	next *membership.Tree
	// affected cards get their relationship properties recomputed.
	affected []string
	// points are cards whose old and new ancestor chains become dirty.
	points []string
	// detached cards left the tree.
	detached []string
}

// marks returns the aggregate work the outcome causes.
func (o *outcome) marks(before *membership.Tree) *storage.DirtyMarks {
	m := &storage.DirtyMarks{Detached: o.detached}
	seen := make(map[string]bool)
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" && !seen[id] {
				seen[id] = true
				m.Cards = append(m.Cards, id)
			}
		}
	}
	for _, p := range o.points {
		add(before.AncestorChain(p)...)
		add(o.next.AncestorChain(p)...)
		if o.next.IsMember(p) {
			add(p)
		}
	}
	return m
}

// mutate runs fn under the writer lock of the tree and commits its outcome.
// fn returns a nil outcome for a no-op.
func (e *Engine) mutate(ctx context.Context, ref, op string, fn func(before *membership.Tree) (*outcome, error)) (err error) {
	s, err := e.Schema(ref)
	if err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "tree."+op, trace.WithAttributes(attribute.String("arbor.tree.id", s.ID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock := e.members.Lock(s.ID)
	defer unlock()
	before, ok := e.members.Snapshot(s.ID)
	if !ok {
		return fmt.Errorf("tree %q: %w", ref, types.ErrNotFound)
	}

	out, err := fn(before)
	if err != nil || out == nil {
		return err
	}
	writes := propagate.Diff(before, out.next, out.affected)
	marks := out.marks(before)
	if err := e.commitLocked(ctx, before, out.next, writes, marks); err != nil {
		return err
	}
	e.mark(s.ID, marks)

	e.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("arbor.op", op)))
	span.SetAttributes(attribute.Int("arbor.writes", len(writes)))
	debug.Logf("tree: %s %s in %s (%d property writes)\n", op, out.card, s.Name, len(writes))
	e.emit(ctx, &eventbus.Event{Type: eventbus.EventTreeMutated, TreeID: s.ID, CardID: out.card, Op: op,
		Detail: fmt.Sprintf("writes=%d", len(writes))})
	return nil
}

// commitLocked persists next together with marks, applies writes and
// publishes next. The caller holds the tree lock.
func (e *Engine) commitLocked(ctx context.Context, before, next *membership.Tree, writes []types.PropertyWrite, marks *storage.DirtyMarks) error {
	if err := e.saveLocked(ctx, next.Schema(), next, nil, marks); err != nil {
		return err
	}
	if len(writes) > 0 {
		if err := e.cards.ApplyProperties(ctx, writes); err != nil {
			if rbErr := e.saveLocked(ctx, before.Schema(), before, nil, nil); rbErr != nil {
				debug.Logf("tree: restoring persisted state of %s failed: %v\n", before.ID(), rbErr)
			}
			return fmt.Errorf("write relationship properties: %w", err)
		}
	}
	e.members.Publish(next)
	return nil
}

// saveLocked persists one tree and records marks in the same write. defs
// overrides the registered aggregate definitions when non-nil.
func (e *Engine) saveLocked(ctx context.Context, s *types.TreeSchema, t *membership.Tree, defs []*types.AggregateDefinition, marks *storage.DirtyMarks) error {
	if e.persist == nil {
		return nil
	}
	if defs == nil {
		defs = e.aggs.ForTree(s.ID)
	}
	st := &storage.TreeState{Schema: s, Aggregates: defs, Dirty: marks}
	if t != nil {
		st.Edges = t.Edges()
	}
	if err := e.persist.SaveTree(ctx, st); err != nil {
		return fmt.Errorf("save tree %s: %w", s.Name, err)
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev *eventbus.Event) {
	if e.bus == nil {
		return
	}
	ev.At = time.Now().UTC()
	if _, err := e.bus.Dispatch(ctx, ev); err != nil {
		debug.Logf("tree: dispatch %s: %v\n", ev.Type, err)
	}
}
