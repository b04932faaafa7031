package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/internal/cards"
	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/telemetry"
	"github.com/arborhq/arbor/internal/types"
)

const scopeName = "github.com/arborhq/arbor/aggregate"

// Options tune RunOnce.
type Options struct {
	// Parallelism bounds how many trees an all-tree run processes at once.
	Parallelism int
	// MaxElapsed bounds the retries of one tree's pass.
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
	// Journal, when set, holds a durable copy of the dirty set.
	Journal Journal
}

// Journal is the durable copy of the dirty set. After a successful pass the
// engine clears the work it consumed, minus anything marked again since.
type Journal interface {
	ClearDirty(ctx context.Context, treeID string, done *Dirty) error
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{Parallelism: 4, MaxElapsed: 30 * time.Second, InitialInterval: 100 * time.Millisecond}
}

// DefinitionError reports a definition skipped during a run.
type DefinitionError struct {
	DefinitionID string `json:"definition_id"`
	Name         string `json:"name"`
	Reason       string `json:"reason"`
}

// TreeRun is the outcome of one tree's pass.
type TreeRun struct {
	TreeID      string            `json:"tree_id"`
	Full        bool              `json:"full"`
	Attempts    int               `json:"attempts"`
	Definitions int               `json:"definitions"`
	Nodes       int               `json:"nodes"`
	Written     int               `json:"written"`
	Cleared     int               `json:"cleared"`
	Ignored     int               `json:"ignored_values"`
	Errors      []DefinitionError `json:"errors,omitempty"`
	Duration    time.Duration     `json:"duration_ns"`
	Err         string            `json:"error,omitempty"`
}

// RunSummary is the outcome of RunOnce.
type RunSummary struct {
	Trees []*TreeRun `json:"trees"`
}

// Written returns the number of values set across all trees.
func (s *RunSummary) Written() int {
	n := 0
	for _, t := range s.Trees {
		n += t.Written
	}
	return n
}

// Errors returns every skipped definition across all trees.
func (s *RunSummary) Errors() []DefinitionError {
	var out []DefinitionError
	for _, t := range s.Trees {
		out = append(out, t.Errors...)
	}
	return out
}

// Engine recomputes aggregate values from membership snapshots.
type Engine struct {
	cards    cards.Store
	trees    *membership.Store
	registry *Registry
	dirty    *DirtySet
	opts     Options

	mu       sync.Mutex
	runLocks map[string]*sync.Mutex

	tracer  trace.Tracer
	written metric.Int64Counter
	runMs   metric.Float64Histogram
	defErrs metric.Int64Counter
}

// NewEngine wires an engine to the stores it reads and the dirty set the
// mutation API fills.
func NewEngine(store cards.Store, trees *membership.Store, registry *Registry, dirty *DirtySet, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Parallelism <= 0 {
		opts.Parallelism = def.Parallelism
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = def.MaxElapsed
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = def.InitialInterval
	}
	m := telemetry.Meter(scopeName)
	written, _ := m.Int64Counter("arbor.aggregate.values_written",
		metric.WithDescription("Aggregate values set or cleared by RunOnce"),
	)
	runMs, _ := m.Float64Histogram("arbor.aggregate.run_ms",
		metric.WithDescription("Duration of one tree's aggregate pass in milliseconds"),
		metric.WithUnit("ms"),
	)
	defErrs, _ := m.Int64Counter("arbor.aggregate.definition_errors",
		metric.WithDescription("Malformed definitions skipped by RunOnce"),
	)
	return &Engine{
		cards:    store,
		trees:    trees,
		registry: registry,
		dirty:    dirty,
		opts:     opts,
		runLocks: make(map[string]*sync.Mutex),
		tracer:   telemetry.Tracer(scopeName),
		written:  written,
		runMs:    runMs,
		defErrs:  defErrs,
	}
}

// Registry returns the definition registry the engine reads.
func (e *Engine) Registry() *Registry { return e.registry }

// Dirty returns the dirty set the engine drains.
func (e *Engine) Dirty() *DirtySet { return e.dirty }

// RunOnce recomputes stale aggregate values of treeID, or of every tree
// when treeID is empty. Trees are processed in parallel; a failing tree
// does not stop the others and its error is joined into the result.
func (e *Engine) RunOnce(ctx context.Context, treeID string) (*RunSummary, error) {
	var ids []string
	if treeID != "" {
		if _, ok := e.trees.Snapshot(treeID); !ok {
			return nil, fmt.Errorf("tree %s: %w", treeID, types.ErrNotFound)
		}
		ids = []string{treeID}
	} else {
		ids = e.trees.TreeIDs()
	}

	summary := &RunSummary{}
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.opts.Parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			run, err := e.runTree(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			summary.Trees = append(summary.Trees, run)
			if err != nil {
				errs = append(errs, fmt.Errorf("tree %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(summary.Trees, func(i, j int) bool { return summary.Trees[i].TreeID < summary.Trees[j].TreeID })
	return summary, errors.Join(errs...)
}

func (e *Engine) runLock(treeID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.runLocks[treeID]
	if !ok {
		m = &sync.Mutex{}
		e.runLocks[treeID] = m
	}
	return m
}

func (e *Engine) runTree(ctx context.Context, treeID string) (*TreeRun, error) {
	lock := e.runLock(treeID)
	lock.Lock()
	defer lock.Unlock()

	attrs := []attribute.KeyValue{attribute.String("arbor.tree.id", treeID)}
	ctx, span := e.tracer.Start(ctx, "aggregate.run", trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.InitialInterval
	bo.MaxElapsedTime = e.opts.MaxElapsed

	attempts := 0
	var run *TreeRun
	err := backoff.Retry(func() error {
		attempts++
		r, err := e.pass(ctx, treeID)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			debug.Logf("aggregate: tree %s pass %d failed: %v\n", treeID, attempts, err)
			return err
		}
		run = r
		return nil
	}, backoff.WithContext(bo, ctx))

	if run == nil {
		run = &TreeRun{TreeID: treeID}
	}
	run.Attempts = attempts
	run.Duration = time.Since(start)
	e.runMs.Record(ctx, float64(run.Duration.Milliseconds()), metric.WithAttributes(attrs...))
	span.SetAttributes(
		attribute.Int("arbor.aggregate.written", run.Written),
		attribute.Int("arbor.aggregate.cleared", run.Cleared),
		attribute.Int("arbor.aggregate.attempts", attempts),
	)
	if err != nil {
		run.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return run, err
	}
	if n := run.Written + run.Cleared; n > 0 {
		e.written.Add(ctx, int64(n), metric.WithAttributes(attrs...))
	}
	if len(run.Errors) > 0 {
		e.defErrs.Add(ctx, int64(len(run.Errors)), metric.WithAttributes(attrs...))
	}
	if !run.Full && run.Nodes == 0 && run.Cleared == 0 && run.Written == 0 {
		return run, nil
	}
	debug.LogEvent("aggregate.run", treeID, "", fmt.Sprintf("written=%d cleared=%d nodes=%d", run.Written, run.Cleared, run.Nodes))
	return run, nil
}

// pass performs one attempt. The dirty set is drained together with the
// snapshot under the tree's writer lock, so no mutation can slip between
// them; a failed pass puts the drained work back.
func (e *Engine) pass(ctx context.Context, treeID string) (*TreeRun, error) {
	unlock := e.trees.Lock(treeID)
	snap, ok := e.trees.Snapshot(treeID)
	d := e.dirty.Drain(treeID)
	defs := e.registry.ForTree(treeID)
	unlock()

	run := &TreeRun{TreeID: treeID, Full: d.Full, Definitions: len(defs)}
	if !ok || d.Empty() {
		return run, nil
	}

	writes, err := e.compute(ctx, snap, defs, d, run)
	if err == nil && len(writes) > 0 {
		err = e.cards.ApplyProperties(ctx, writes)
	}
	if err != nil {
		e.dirty.Restore(treeID, d)
		return nil, err
	}
	for _, w := range writes {
		if w.Value == nil {
			run.Cleared++
		} else {
			run.Written++
		}
	}
	e.clearJournal(ctx, treeID, d)
	return run, nil
}

// clearJournal forgets persisted marks that d consumed. It runs under the
// tree lock so no mutation can mark and persist between the two reads.
// Failure only costs a redundant recomputation later.
func (e *Engine) clearJournal(ctx context.Context, treeID string, d *Dirty) {
	if e.opts.Journal == nil {
		return
	}
	unlock := e.trees.Lock(treeID)
	defer unlock()
	done := d.Without(e.dirty.Peek(treeID))
	if done.Empty() {
		return
	}
	if err := e.opts.Journal.ClearDirty(ctx, treeID, done); err != nil {
		debug.Logf("aggregate: clearing persisted marks of %s failed: %v\n", treeID, err)
	}
}

func (e *Engine) compute(ctx context.Context, snap *membership.Tree, defs []*types.AggregateDefinition, d *Dirty, run *TreeRun) ([]types.PropertyWrite, error) {
	var writes []types.PropertyWrite
	nodes := make(map[string]struct{})

	for _, def := range defs {
		reason, err := e.check(ctx, snap.Schema(), def)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			run.Errors = append(run.Errors, DefinitionError{DefinitionID: def.ID, Name: def.Name, Reason: reason})
			continue
		}
		for _, node := range candidates(snap, def, d) {
			nodes[node] = struct{}{}
			scope := snap.Descendants(node, def.Scope)
			var values []string
			if def.Function.NeedsSource() {
				for _, id := range scope {
					v, set, err := e.cards.GetProperty(ctx, id, def.SourceProperty)
					if err != nil {
						return nil, fmt.Errorf("read %s of %s: %w", def.SourceProperty, id, err)
					}
					if set {
						values = append(values, v)
					}
				}
			}
			value, set, ignored := Fold(def.Function, len(scope), values)
			run.Ignored += ignored
			w, err := e.diff(ctx, node, def.Name, value, set)
			if err != nil {
				return nil, err
			}
			if w != nil {
				writes = append(writes, *w)
			}
		}
	}
	run.Nodes = len(nodes)

	for _, id := range d.DetachedIDs() {
		if snap.IsMember(id) {
			continue
		}
		for _, def := range defs {
			w, err := e.diff(ctx, id, def.Name, "", false)
			if err != nil {
				return nil, err
			}
			if w != nil {
				writes = append(writes, *w)
			}
		}
	}
	return writes, nil
}

// diff returns the write that brings the stored value to the computed one,
// or nil when they already agree.
func (e *Engine) diff(ctx context.Context, cardID, prop, value string, set bool) (*types.PropertyWrite, error) {
	cur, has, err := e.cards.GetProperty(ctx, cardID, prop)
	if err != nil {
		return nil, fmt.Errorf("read %s of %s: %w", prop, cardID, err)
	}
	switch {
	case set && (!has || cur != value):
		w := types.Set(cardID, prop, value)
		return &w, nil
	case !set && has:
		w := types.Clear(cardID, prop)
		return &w, nil
	}
	return nil, nil
}

// check returns a non-empty reason when def cannot be evaluated against
// the current schema and card store.
func (e *Engine) check(ctx context.Context, s *types.TreeSchema, def *types.AggregateDefinition) (string, error) {
	if err := Validate(s, def); err != nil {
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			return ve.Field + ": " + ve.Reason, nil
		}
		return err.Error(), nil
	}
	if ok, err := e.cards.PropertyDefined(ctx, def.NodeType, def.Name); err != nil {
		return "", err
	} else if !ok {
		return fmt.Sprintf("aggregate property %s is not defined on %s", def.Name, def.NodeType), nil
	}
	if !def.Function.NeedsSource() {
		return "", nil
	}
	// A source nobody has defined yet just has no values.
	src, err := e.cards.LookupProperty(ctx, def.SourceProperty)
	if err != nil {
		return "", err
	}
	if src == nil {
		return "", nil
	}
	for _, t := range ScopeTypes(s, def) {
		ok, err := e.cards.PropertyDefined(ctx, t, def.SourceProperty)
		if err != nil {
			return "", err
		}
		if ok {
			return "", nil
		}
	}
	return fmt.Sprintf("source property %s is not defined on any card type in scope", def.SourceProperty), nil
}

// candidates returns the node cards of def that need recomputation.
func candidates(snap *membership.Tree, def *types.AggregateDefinition, d *Dirty) []string {
	all := snap.MembersOfType(def.NodeType)
	if d.Full {
		return all
	}
	var out []string
	for _, id := range all {
		_, dirty := d.Cards[id]
		_, back := d.Detached[id]
		if dirty || back {
			out = append(out, id)
		}
	}
	return out
}
