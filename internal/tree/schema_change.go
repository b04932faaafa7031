package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/eventbus"
	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/propagate"
	"github.com/arborhq/arbor/internal/schema"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

// Schema change operations.
const (
	OpCreate      = "create"
	OpReconfigure = "reconfigure"
	OpRemoveLevel = "remove-level"
	OpDelete      = "delete"
)

// ChangeInfo describes a planned schema change to dependent reporters.
type ChangeInfo struct {
	TreeID            string
	TreeName          string
	Operation         string
	RemovedTypes      []string
	RemovedProperties []string
}

// DependentReporter contributes artifacts outside the engine (saved views,
// workflow transitions) that a schema change would invalidate.
type DependentReporter interface {
	Dependents(ctx context.Context, change ChangeInfo) ([]types.Artifact, error)
}

// ReporterFunc adapts a function into a DependentReporter.
type ReporterFunc func(ctx context.Context, change ChangeInfo) ([]types.Artifact, error)

func (f ReporterFunc) Dependents(ctx context.Context, change ChangeInfo) ([]types.Artifact, error) {
	return f(ctx, change)
}

// RegisterReporter adds r to the reporters consulted when planning a
// destructive change.
func (e *Engine) RegisterReporter(r DependentReporter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reporters = append(e.reporters, r)
}

type changeState string

const (
	statePending   changeState = "pending"
	stateCommitted changeState = "committed"
	stateCancelled changeState = "cancelled"
)

// Change is a planned schema change. Nothing is applied until Commit.
type Change struct {
	e    *Engine
	info ChangeInfo
	base int64
	next *types.TreeSchema

	droppedAggs []*types.AggregateDefinition
	dependents  []types.Artifact
	noop        bool

	mu    sync.Mutex
	state changeState
}

// Operation returns one of the Op* constants.
func (c *Change) Operation() string { return c.info.Operation }

// Schema returns the schema the change would produce, or nil for a delete.
func (c *Change) Schema() *types.TreeSchema { return c.next.Clone() }

// RemovedTypes returns the card types whose levels the change removes.
func (c *Change) RemovedTypes() []string { return append([]string(nil), c.info.RemovedTypes...) }

// TreeName returns the name of the tree the change applies to.
func (c *Change) TreeName() string { return c.info.TreeName }

// Noop reports whether committing would leave the schema unchanged.
func (c *Change) Noop() bool { return c.noop }

// Dependents lists every artifact the change would delete.
func (c *Change) Dependents() []types.Artifact { return append([]types.Artifact(nil), c.dependents...) }

// Cancel discards the change. Committing afterwards fails.
func (c *Change) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == statePending {
		c.state = stateCancelled
	}
}

// Commit applies the change. When the change has dependents and confirmed
// is false it refuses with a *types.DependentArtifactWarning listing them.
// A change planned against an older schema version fails with
// types.ErrStaleChange. If only the final property cleanup fails the change
// stays committed and the error is returned alongside the new schema.
func (c *Change) Commit(ctx context.Context, confirmed bool) (s *types.TreeSchema, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePending {
		return nil, fmt.Errorf("%s of tree %s: change already %s", c.info.Operation, c.info.TreeName, c.state)
	}
	if len(c.dependents) > 0 && !confirmed {
		return nil, &types.DependentArtifactWarning{TreeID: c.info.TreeID, Operation: c.info.Operation, Artifacts: c.Dependents()}
	}

	e := c.e
	ctx, span := e.tracer.Start(ctx, "schema."+c.info.Operation)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch {
	case c.noop:
		s, err = e.Schema(c.info.TreeID)
	case c.info.Operation == OpCreate:
		s, err = e.commitCreate(ctx, c)
	case c.info.Operation == OpDelete:
		err = e.commitDelete(ctx, c)
	default:
		s, err = e.commitLevels(ctx, c)
	}
	var cleanup *cleanupError
	if err != nil && !errors.As(err, &cleanup) {
		return nil, err
	}
	c.state = stateCommitted
	e.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("arbor.op", "schema."+c.info.Operation)))
	debug.Logf("tree: %s of %s committed (%d dependents)\n", c.info.Operation, c.info.TreeName, len(c.dependents))
	e.emit(ctx, &eventbus.Event{Type: eventbus.EventSchemaChanged, TreeID: c.info.TreeID, Op: c.info.Operation,
		Detail: fmt.Sprintf("dependents=%d", len(c.dependents))})
	return s, err
}

// PlanCreateSchema validates a new tree.
func (e *Engine) PlanCreateSchema(_ context.Context, name string, levels []types.Level) (*Change, error) {
	next, err := e.schemas.PrepareCreate(name, levels)
	if err != nil {
		return nil, err
	}
	return &Change{
		e:     e,
		info:  ChangeInfo{TreeID: next.ID, TreeName: next.Name, Operation: OpCreate},
		next:  next,
		state: statePending,
	}, nil
}

// CreateSchema plans and commits a new tree in one step.
func (e *Engine) CreateSchema(ctx context.Context, name string, levels []types.Level) (*types.TreeSchema, error) {
	c, err := e.PlanCreateSchema(ctx, name, levels)
	if err != nil {
		return nil, err
	}
	return c.Commit(ctx, true)
}

// PlanReconfigure validates a new level list for an existing tree. Only
// appending levels or truncating trailing levels is accepted.
func (e *Engine) PlanReconfigure(ctx context.Context, ref string, levels []types.Level) (*Change, error) {
	cur, err := e.Schema(ref)
	if err != nil {
		return nil, err
	}
	rc, err := e.schemas.PrepareReconfigure(cur.ID, levels)
	if err != nil {
		return nil, err
	}
	c, err := e.planLevels(ctx, OpReconfigure, rc)
	if err != nil {
		return nil, err
	}
	c.noop = len(rc.Added) == 0 && len(rc.Removed) == 0
	return c, nil
}

// PlanRemoveLevel plans the removal of the level at index.
func (e *Engine) PlanRemoveLevel(ctx context.Context, ref string, index int) (*Change, error) {
	cur, err := e.Schema(ref)
	if err != nil {
		return nil, err
	}
	rc, err := e.schemas.PrepareRemoveLevel(cur.ID, index)
	if err != nil {
		return nil, err
	}
	return e.planLevels(ctx, OpRemoveLevel, rc)
}

func (e *Engine) planLevels(ctx context.Context, op string, rc *schema.Reconfiguration) (*Change, error) {
	info := ChangeInfo{TreeID: rc.Current.ID, TreeName: rc.Current.Name, Operation: op}
	var deps []types.Artifact
	for _, l := range rc.Removed {
		info.RemovedTypes = append(info.RemovedTypes, l.CardType)
		info.RemovedProperties = append(info.RemovedProperties, l.RelationshipProperty)
		deps = append(deps, types.Artifact{Kind: types.ArtifactRelationshipProperty, ID: l.RelationshipProperty, Name: l.RelationshipProperty})
	}
	dropped := e.aggs.DependingOn(rc.Current.ID, info.RemovedTypes)
	for _, d := range dropped {
		deps = append(deps, types.Artifact{Kind: types.ArtifactAggregateDefinition, ID: d.ID, Name: d.Name})
	}
	if len(info.RemovedTypes) > 0 {
		ext, err := e.collectDependents(ctx, info)
		if err != nil {
			return nil, err
		}
		deps = append(deps, ext...)
	}
	return &Change{
		e:           e,
		info:        info,
		base:        rc.Current.Version,
		next:        rc.Next,
		droppedAggs: dropped,
		dependents:  deps,
		state:       statePending,
	}, nil
}

// PlanDeleteSchema plans the deletion of a tree with all its relationship
// properties and aggregate definitions.
func (e *Engine) PlanDeleteSchema(ctx context.Context, ref string) (*Change, error) {
	cur, err := e.Schema(ref)
	if err != nil {
		return nil, err
	}
	info := ChangeInfo{TreeID: cur.ID, TreeName: cur.Name, Operation: OpDelete,
		RemovedTypes: cur.Types(), RemovedProperties: cur.Properties()}
	var deps []types.Artifact
	for _, p := range cur.Properties() {
		deps = append(deps, types.Artifact{Kind: types.ArtifactRelationshipProperty, ID: p, Name: p})
	}
	dropped := e.aggs.ForTree(cur.ID)
	for _, d := range dropped {
		deps = append(deps, types.Artifact{Kind: types.ArtifactAggregateDefinition, ID: d.ID, Name: d.Name})
	}
	ext, err := e.collectDependents(ctx, info)
	if err != nil {
		return nil, err
	}
	return &Change{
		e:           e,
		info:        info,
		base:        cur.Version,
		droppedAggs: dropped,
		dependents:  append(deps, ext...),
		state:       statePending,
	}, nil
}

func (e *Engine) collectDependents(ctx context.Context, info ChangeInfo) ([]types.Artifact, error) {
	e.mu.RLock()
	reporters := append([]DependentReporter(nil), e.reporters...)
	e.mu.RUnlock()
	var out []types.Artifact
	for _, r := range reporters {
		arts, err := r.Dependents(ctx, info)
		if err != nil {
			return nil, fmt.Errorf("collect dependents of %s: %w", info.TreeName, err)
		}
		out = append(out, arts...)
	}
	return out, nil
}

func (e *Engine) commitCreate(ctx context.Context, c *Change) (*types.TreeSchema, error) {
	unlock := e.members.Lock(c.next.ID)
	defer unlock()

	// Put rejects a name or property another tree took since planning.
	stored, err := e.schemas.Put(c.next, 0)
	if err != nil {
		return nil, err
	}
	t := membership.NewTree(stored)
	if err := e.syncProperties(ctx, stored); err != nil {
		_ = e.schemas.Delete(stored.ID, stored.Version)
		return nil, err
	}
	if err := e.saveLocked(ctx, stored, t, []*types.AggregateDefinition{}, nil); err != nil {
		_ = e.schemas.Delete(stored.ID, stored.Version)
		return nil, err
	}
	e.members.Publish(t)
	return stored, nil
}

// commitLevels applies a reconfiguration or level removal: members of
// removed types are detached with their children promoted, relationship
// properties are re-derived and dependent definitions are dropped.
//
// The non-destructive steps run first and are undone if any of them fails.
// Properties of removed levels and dropped definitions are deleted only
// after the new schema is persisted and registered.
func (e *Engine) commitLevels(ctx context.Context, c *Change) (*types.TreeSchema, error) {
	id := c.info.TreeID
	unlock := e.members.Lock(id)
	defer unlock()

	cur, ok := e.schemas.Get(id)
	if !ok || cur.Version != c.base {
		return nil, fmt.Errorf("%s of tree %s: %w", c.info.Operation, c.info.TreeName, types.ErrStaleChange)
	}
	before, ok := e.members.Snapshot(id)
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", id, types.ErrNotFound)
	}

	stored := c.next.Clone()
	stored.Version = c.base + 1
	tx := before.Begin()
	tx.SetSchema(stored)
	var detached []string
	for _, typ := range c.info.RemovedTypes {
		for _, m := range tx.View().MembersOfType(typ) {
			tx.PromoteChildren(m)
			tx.Detach(m)
			detached = append(detached, m)
		}
	}
	next := tx.Freeze()

	all := make([]string, 0, before.Len())
	for _, edge := range before.Edges() {
		all = append(all, edge.CardID)
	}
	writes := propagate.Diff(before, next, all)

	dropped := make(map[string]bool, len(c.droppedAggs))
	for _, d := range c.droppedAggs {
		dropped[d.ID] = true
	}
	remaining := make([]*types.AggregateDefinition, 0)
	for _, d := range e.aggs.ForTree(id) {
		if !dropped[d.ID] {
			remaining = append(remaining, d)
		}
	}

	rb := &levelRollback{cur: cur, before: before}
	kept := make(map[string]bool, len(cur.Levels))
	for _, p := range cur.Properties() {
		kept[p] = true
	}
	for _, p := range stored.Properties() {
		if !kept[p] {
			rb.added = append(rb.added, p)
		}
	}
	if err := e.syncProperties(ctx, stored); err != nil {
		e.rollbackLevels(ctx, rb)
		return nil, err
	}
	if len(writes) > 0 {
		if err := e.cards.ApplyProperties(ctx, writes); err != nil {
			e.rollbackLevels(ctx, rb)
			return nil, fmt.Errorf("write relationship properties: %w", err)
		}
		rb.undo = propagate.Diff(next, before, all)
	}
	marks := &storage.DirtyMarks{Full: true, Detached: detached}
	if err := e.saveLocked(ctx, stored, next, remaining, marks); err != nil {
		e.rollbackLevels(ctx, rb)
		return nil, err
	}
	rb.saved = true
	if _, err := e.schemas.Put(c.next, c.base); err != nil {
		e.rollbackLevels(ctx, rb)
		return nil, err
	}

	for _, d := range c.droppedAggs {
		e.aggs.Remove(d.ID)
	}
	e.members.Publish(next)
	e.mark(id, marks)

	var errs []error
	for _, p := range c.info.RemovedProperties {
		if err := e.cards.DropProperty(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("drop relationship property %s: %w", p, err))
		}
	}
	for _, d := range c.droppedAggs {
		if err := e.cards.DropProperty(ctx, d.Name); err != nil {
			errs = append(errs, fmt.Errorf("drop aggregate property %s: %w", d.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return stored, &cleanupError{tree: c.info.TreeName, err: err}
	}
	return stored, nil
}

// cleanupError reports a committed change that left property definitions
// or values behind.
type cleanupError struct {
	tree string
	err  error
}

func (e *cleanupError) Error() string {
	return fmt.Sprintf("tree %s changed but property cleanup failed: %v", e.tree, e.err)
}

func (e *cleanupError) Unwrap() error { return e.err }

// levelRollback records what a failed commitLevels has to undo.
type levelRollback struct {
	cur    *types.TreeSchema
	before *membership.Tree
	// added are relationship properties the change introduced.
	added []string
	// undo restores relationship values rewritten by the change.
	undo  []types.PropertyWrite
	saved bool
}

// rollbackLevels puts the card store and the persisted state back to the
// schema the change started from. Failures are logged; the first error is
// what the caller reports.
func (e *Engine) rollbackLevels(ctx context.Context, rb *levelRollback) {
	id := rb.cur.ID
	if rb.saved {
		if err := e.saveLocked(ctx, rb.cur, rb.before, nil, nil); err != nil {
			debug.Logf("tree: restoring persisted state of %s failed: %v\n", id, err)
		}
	}
	if err := e.syncProperties(ctx, rb.cur); err != nil {
		debug.Logf("tree: restoring relationship properties of %s failed: %v\n", id, err)
	}
	if len(rb.undo) > 0 {
		if err := e.cards.ApplyProperties(ctx, rb.undo); err != nil {
			debug.Logf("tree: restoring relationship values of %s failed: %v\n", id, err)
		}
	}
	for _, p := range rb.added {
		if err := e.cards.DropProperty(ctx, p); err != nil {
			debug.Logf("tree: dropping property %s of %s failed: %v\n", p, id, err)
		}
	}
}

func (e *Engine) commitDelete(ctx context.Context, c *Change) error {
	id := c.info.TreeID
	unlock := e.members.Lock(id)
	defer unlock()

	cur, ok := e.schemas.Get(id)
	if !ok || cur.Version != c.base {
		return fmt.Errorf("delete of tree %s: %w", c.info.TreeName, types.ErrStaleChange)
	}
	if e.persist != nil {
		if err := e.persist.DeleteTree(ctx, id); err != nil {
			return fmt.Errorf("delete tree %s: %w", cur.Name, err)
		}
	}
	if err := e.schemas.Delete(id, c.base); err != nil {
		return err
	}
	defs := e.aggs.ForTree(id)
	for _, d := range defs {
		e.aggs.Remove(d.ID)
	}
	e.members.Drop(id)
	e.dirty.Forget(id)

	var errs []error
	for _, p := range cur.Properties() {
		if err := e.cards.DropProperty(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("drop relationship property %s: %w", p, err))
		}
	}
	for _, d := range defs {
		if err := e.cards.DropProperty(ctx, d.Name); err != nil {
			errs = append(errs, fmt.Errorf("drop aggregate property %s: %w", d.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return &cleanupError{tree: cur.Name, err: err}
	}
	return nil
}

// syncProperties defines every relationship property of s on the card
// types of the levels below it.
func (e *Engine) syncProperties(ctx context.Context, s *types.TreeSchema) error {
	typeNames := s.Types()
	for j, l := range s.Levels {
		def := types.PropertyDefinition{
			Name:      l.RelationshipProperty,
			Kind:      types.PropertyRelationship,
			CardTypes: append([]string(nil), typeNames[j+1:]...),
		}
		if err := e.cards.DefineProperty(ctx, def); err != nil {
			return fmt.Errorf("define relationship property %s: %w", l.RelationshipProperty, err)
		}
	}
	return nil
}
