// Package arbor opens an arbor workspace: a card store plus the tree
// engine that maintains tree membership and aggregate properties on top of
// it.
//
// Programs embedding arbor should go through Workspace so that card store
// changes reach the engine: SetCardType and SetProperty publish the card
// events the engine reacts to.
package arbor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arborhq/arbor/internal/aggregate"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/deffile"
	"github.com/arborhq/arbor/internal/eventbus"
	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/storage/sqlite"
	"github.com/arborhq/arbor/internal/telemetry"
	"github.com/arborhq/arbor/internal/tree"
	"github.com/arborhq/arbor/internal/types"
)

// Core types re-exported for embedders.
type (
	Card                = types.Card
	Level               = types.Level
	TreeSchema          = types.TreeSchema
	AggregateDefinition = types.AggregateDefinition
	CascadeMode         = types.CascadeMode
	Scope               = types.Scope
	Storage             = storage.Storage
)

// Cascade modes
const (
	JustThisCard = types.JustThisCard
	WithChildren = types.WithChildren
)

// Options configure a Workspace.
type Options struct {
	Aggregate aggregate.Options
	// EventLog enables the event log handler (debug output of every event).
	EventLog bool
}

// Workspace ties a card store to a tree engine through the event bus.
type Workspace struct {
	Store  Storage
	Engine *tree.Engine
	Bus    *eventbus.Bus
}

// Open opens (creating if needed) the SQLite workspace database at dbPath.
func Open(ctx context.Context, dbPath string, opts Options) (*Workspace, error) {
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	ws, err := OpenStorage(ctx, store, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return ws, nil
}

// OpenStorage builds a workspace over an already open store.
func OpenStorage(ctx context.Context, store Storage, opts Options) (*Workspace, error) {
	if opts.Aggregate.Parallelism == 0 {
		opts.Aggregate = aggregate.DefaultOptions()
	}
	bus := eventbus.New()
	if opts.EventLog {
		bus.Register(&eventbus.EventLogHandler{})
	}
	engine, err := tree.Open(ctx, telemetry.WrapCards(store), store, tree.Options{Aggregate: opts.Aggregate, Bus: bus})
	if err != nil {
		return nil, err
	}
	return &Workspace{Store: store, Engine: engine, Bus: bus}, nil
}

// Close closes the underlying store.
func (w *Workspace) Close() error {
	return w.Store.Close()
}

// CreateCard adds a card to the store.
func (w *Workspace) CreateCard(ctx context.Context, id, cardType string) (*Card, error) {
	c := &Card{ID: strings.TrimSpace(id), Type: strings.TrimSpace(cardType)}
	if c.ID == "" || c.Type == "" {
		return nil, types.Invalid("card", "id and type are required")
	}
	if err := w.Store.CreateCard(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SetCardType changes a card's type and lets the engine detach it from
// trees where the new type no longer fits. It returns the trees changed.
func (w *Workspace) SetCardType(ctx context.Context, cardID, cardType string) ([]string, error) {
	cardType = strings.TrimSpace(cardType)
	if cardType == "" {
		return nil, types.Invalid("type", "card type is required")
	}
	old, err := w.Store.SetCardType(ctx, cardID, cardType)
	if err != nil {
		return nil, err
	}
	if old == cardType {
		return nil, nil
	}
	res, err := w.Bus.Dispatch(ctx, &eventbus.Event{
		Type:    eventbus.EventCardTypeChanged,
		CardID:  cardID,
		OldType: old,
		NewType: cardType,
	})
	if err != nil {
		return nil, err
	}
	return res.Trees, resultError(res)
}

// SetProperty writes one property of a card; an empty value clears it.
//
// Relationship properties are turned into tree placements. Aggregate
// properties are computed and cannot be written. Any other name is a user
// property, defined on the card's type on first use.
func (w *Workspace) SetProperty(ctx context.Context, cardID, name, value string) error {
	name = strings.TrimSpace(name)
	card, err := w.Store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	def, err := w.propertyDefinition(ctx, name)
	if err != nil {
		return err
	}
	kind := types.PropertyUser
	if def != nil {
		kind = def.Kind
	}

	switch kind {
	case types.PropertyAggregate:
		return types.Invalid("property", "%q is an aggregate property and is computed", name)
	case types.PropertyRelationship:
		return w.setRelationship(ctx, cardID, name, value)
	}

	if value != "" && (def == nil || !contains(def.CardTypes, card.Type)) {
		next := types.PropertyDefinition{Name: name, Kind: types.PropertyUser, CardTypes: []string{card.Type}}
		if def != nil {
			next.CardTypes = append(append([]string(nil), def.CardTypes...), card.Type)
		}
		if err := w.Store.DefineProperty(ctx, next); err != nil {
			return err
		}
	}
	write := types.Clear(cardID, name)
	if value != "" {
		write = types.Set(cardID, name, value)
	}
	if err := w.Store.ApplyProperties(ctx, []types.PropertyWrite{write}); err != nil {
		return err
	}
	res, err := w.Bus.Dispatch(ctx, &eventbus.Event{
		Type:     eventbus.EventCardPropertyChanged,
		CardID:   cardID,
		Property: name,
	})
	if err != nil {
		return err
	}
	return resultError(res)
}

func (w *Workspace) setRelationship(ctx context.Context, cardID, name, value string) error {
	for _, s := range w.Engine.Schemas() {
		if s.LevelOfProperty(name) < 0 {
			continue
		}
		return w.Engine.SetRelationshipProperties(ctx, s.ID, cardID, map[string]string{name: value})
	}
	return fmt.Errorf("relationship property %q: %w", name, types.ErrNotFound)
}

func (w *Workspace) propertyDefinition(ctx context.Context, name string) (*types.PropertyDefinition, error) {
	defs, err := w.Store.ListPropertyDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, nil
}

// ApplyResult reports what ApplyDocument changed.
type ApplyResult struct {
	Schema            *TreeSchema `json:"schema"`
	Created           bool        `json:"created"`
	Reconfigured      bool        `json:"reconfigured"`
	AggregatesAdded   []string    `json:"aggregates_added,omitempty"`
	AggregatesUpdated []string    `json:"aggregates_updated,omitempty"`
	AggregatesRemoved []string    `json:"aggregates_removed,omitempty"`
}

// ConfirmFunc decides whether a schema change with dependents goes ahead.
type ConfirmFunc func(c *tree.Change) (bool, error)

// ApplyDocument creates the document's tree or reconfigures the existing
// one, then reconciles aggregate definitions by name. confirm is asked only
// when the reconfiguration would delete dependents; a nil confirm refuses.
func (w *Workspace) ApplyDocument(ctx context.Context, doc *deffile.Document, confirm ConfirmFunc) (*ApplyResult, error) {
	wanted, err := doc.AggregateDefinitions()
	if err != nil {
		return nil, err
	}
	res := &ApplyResult{}

	cur, err := w.Engine.Schema(doc.Name)
	switch {
	case errors.Is(err, types.ErrNotFound):
		s, err := w.Engine.CreateSchema(ctx, doc.Name, doc.SchemaLevels())
		if err != nil {
			return nil, err
		}
		cur, res.Created = s, true
	case err != nil:
		return nil, err
	default:
		change, err := w.Engine.PlanReconfigure(ctx, cur.ID, doc.SchemaLevels())
		if err != nil {
			return nil, err
		}
		if !change.Noop() {
			ok := len(change.Dependents()) == 0
			if !ok && confirm != nil {
				if ok, err = confirm(change); err != nil {
					change.Cancel()
					return nil, err
				}
			}
			if !ok {
				change.Cancel()
				return nil, &types.DependentArtifactWarning{TreeID: cur.ID, Operation: change.Operation(), Artifacts: change.Dependents()}
			}
			if cur, err = change.Commit(ctx, true); err != nil {
				return nil, err
			}
			res.Reconfigured = true
		}
	}
	res.Schema = cur

	existing, err := w.Engine.Aggregates(cur.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]*types.AggregateDefinition, len(existing))
	for _, d := range existing {
		have[strings.ToLower(d.Name)] = d
	}
	keep := make(map[string]bool, len(wanted))
	for _, want := range wanted {
		key := strings.ToLower(want.Name)
		keep[key] = true
		old, ok := have[key]
		if ok && sameAggregate(old, &want) {
			continue
		}
		if ok {
			if err := w.Engine.RemoveAggregate(ctx, cur.ID, old.ID); err != nil {
				return res, err
			}
		}
		if _, err := w.Engine.DefineAggregate(ctx, cur.ID, want); err != nil {
			return res, err
		}
		if ok {
			res.AggregatesUpdated = append(res.AggregatesUpdated, want.Name)
		} else {
			res.AggregatesAdded = append(res.AggregatesAdded, want.Name)
		}
	}
	for key, d := range have {
		if keep[key] {
			continue
		}
		if err := w.Engine.RemoveAggregate(ctx, cur.ID, d.ID); err != nil {
			return res, err
		}
		res.AggregatesRemoved = append(res.AggregatesRemoved, d.Name)
	}
	sort.Strings(res.AggregatesRemoved)
	debug.Logf("arbor: applied %s (created=%v reconfigured=%v +%d ~%d -%d)\n", cur.Name, res.Created, res.Reconfigured,
		len(res.AggregatesAdded), len(res.AggregatesUpdated), len(res.AggregatesRemoved))
	return res, nil
}

func sameAggregate(a, b *types.AggregateDefinition) bool {
	return a.Name == b.Name &&
		a.NodeType == b.NodeType &&
		a.Function == b.Function &&
		a.SourceProperty == b.SourceProperty &&
		a.Scope == b.Scope
}

func resultError(res *eventbus.Result) error {
	if res == nil || len(res.Errors) == 0 {
		return nil
	}
	return errors.New(strings.Join(res.Errors, "; "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FindWorkspaceDir returns the .arbor directory of the enclosing workspace,
// or "" outside a workspace.
func FindWorkspaceDir() string {
	root, err := debug.FindWorkspaceRoot()
	if err != nil {
		return ""
	}
	return filepath.Join(root, config.WorkspaceDir)
}

// FindDatabasePath resolves the database to open: ARBOR_DB, then the db
// key of the workspace config, then .arbor/arbor.db of the enclosing
// workspace. It returns "" when none applies.
func FindDatabasePath() string {
	if p := os.Getenv("ARBOR_DB"); p != "" {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return p
	}
	dir := FindWorkspaceDir()
	if dir == "" {
		return ""
	}
	return config.DatabasePath(dir)
}
