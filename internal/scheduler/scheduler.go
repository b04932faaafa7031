// Package scheduler runs aggregate computation in the background: marks on
// the dirty set are debounced per tree and then handed to the runner.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/arborhq/arbor/internal/aggregate"
	"github.com/arborhq/arbor/internal/debug"
)

// Runner recomputes the stale aggregates of one tree.
type Runner interface {
	RunOnce(ctx context.Context, ref string) (*aggregate.RunSummary, error)
}

// Source notifies about trees with pending aggregate work.
type Source interface {
	OnMark(fn func(treeID string))
	Pending(treeID string) bool
}

// Result is delivered to the OnResult callback after every run.
type Result struct {
	TreeID  string
	Summary *aggregate.RunSummary
	Err     error
}

// Scheduler debounces dirty marks and runs the aggregate engine.
type Scheduler struct {
	runner   Runner
	source   Source
	debounce *Debouncer
	onResult func(Result)

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// New returns a scheduler that waits for quiet periods of delay before
// running a tree. onResult may be nil.
func New(runner Runner, source Source, delay time.Duration, onResult func(Result)) *Scheduler {
	s := &Scheduler{runner: runner, source: source, onResult: onResult}
	s.debounce = NewDebouncer(delay, s.run)
	return s
}

// Start subscribes to the dirty source. Runs use ctx; Stop or cancelling
// ctx ends the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	s.source.OnMark(s.debounce.Trigger)
	go func() {
		<-ctx.Done()
		s.debounce.Cancel()
	}()
}

// Trigger schedules a run of treeID as if it had been marked.
func (s *Scheduler) Trigger(treeID string) {
	s.debounce.Trigger(treeID)
}

// Stop unsubscribes, cancels armed timers and waits for a running pass.
func (s *Scheduler) Stop() {
	s.source.OnMark(nil)
	s.debounce.CancelAndWait()
}

func (s *Scheduler) run(treeID string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	sum, err := s.runner.RunOnce(ctx, treeID)
	if err != nil {
		debug.Logf("scheduler: run of %s failed: %v\n", treeID, err)
		// Work restored by a failed pass is retried after another quiet period.
		if s.source.Pending(treeID) && ctx.Err() == nil {
			s.debounce.Trigger(treeID)
		}
	}
	if s.onResult != nil {
		s.onResult(Result{TreeID: treeID, Summary: sum, Err: err})
	}
}
