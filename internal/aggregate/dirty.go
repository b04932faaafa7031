package aggregate

import (
	"sort"
	"sync"
)

// Dirty is the pending recomputation work of one tree.
type Dirty struct {
	// Full requests recomputation of every node card.
	Full bool
	// Cards are node candidates whose subtree changed.
	Cards map[string]struct{}
	// Detached cards left the tree and need their aggregate values cleared.
	Detached map[string]struct{}
}

func newDirty() *Dirty {
	return &Dirty{Cards: make(map[string]struct{}), Detached: make(map[string]struct{})}
}

// Empty reports whether there is nothing to do.
func (d *Dirty) Empty() bool {
	return d == nil || (!d.Full && len(d.Cards) == 0 && len(d.Detached) == 0)
}

// CardIDs returns the dirty card ids, sorted.
func (d *Dirty) CardIDs() []string { return sortedKeys(d.Cards) }

// DetachedIDs returns the detached card ids, sorted.
func (d *Dirty) DetachedIDs() []string { return sortedKeys(d.Detached) }

// Without returns the work in d that o does not also hold.
func (d *Dirty) Without(o *Dirty) *Dirty {
	out := newDirty()
	if d.Empty() {
		return out
	}
	if o == nil {
		o = newDirty()
	}
	out.Full = d.Full && !o.Full
	for id := range d.Cards {
		if _, ok := o.Cards[id]; !ok {
			out.Cards[id] = struct{}{}
		}
	}
	for id := range d.Detached {
		if _, ok := o.Detached[id]; !ok {
			out.Detached[id] = struct{}{}
		}
	}
	return out
}

func (d *Dirty) merge(o *Dirty) {
	d.Full = d.Full || o.Full
	for id := range o.Cards {
		d.Cards[id] = struct{}{}
	}
	for id := range o.Detached {
		d.Detached[id] = struct{}{}
	}
}

// DirtySet tracks pending work per tree. Marks are cheap and never block on
// a running computation.
type DirtySet struct {
	mu     sync.Mutex
	trees  map[string]*Dirty
	notify func(treeID string)
}

// NewDirtySet creates an empty dirty set.
func NewDirtySet() *DirtySet {
	return &DirtySet{trees: make(map[string]*Dirty)}
}

// OnMark installs a callback invoked after every mark, outside the lock.
// The scheduler uses it to debounce background runs.
func (s *DirtySet) OnMark(fn func(treeID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *DirtySet) mark(treeID string, apply func(d *Dirty)) {
	s.mu.Lock()
	d, ok := s.trees[treeID]
	if !ok {
		d = newDirty()
		s.trees[treeID] = d
	}
	apply(d)
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(treeID)
	}
}

// MarkFull requests a full recomputation of treeID.
func (s *DirtySet) MarkFull(treeID string) {
	s.mark(treeID, func(d *Dirty) { d.Full = true })
}

// MarkCards marks node candidates of treeID dirty.
func (s *DirtySet) MarkCards(treeID string, cardIDs ...string) {
	if len(cardIDs) == 0 {
		return
	}
	s.mark(treeID, func(d *Dirty) {
		for _, id := range cardIDs {
			if id != "" {
				d.Cards[id] = struct{}{}
			}
		}
	})
}

// MarkDetached records cards that left treeID.
func (s *DirtySet) MarkDetached(treeID string, cardIDs ...string) {
	if len(cardIDs) == 0 {
		return
	}
	s.mark(treeID, func(d *Dirty) {
		for _, id := range cardIDs {
			d.Detached[id] = struct{}{}
		}
	})
}

// Drain removes and returns the pending work of treeID. The result is never
// nil.
func (s *DirtySet) Drain(treeID string) *Dirty {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.trees[treeID]
	if !ok {
		return newDirty()
	}
	delete(s.trees, treeID)
	return d
}

// Restore merges drained work back after a failed run.
func (s *DirtySet) Restore(treeID string, d *Dirty) {
	if d.Empty() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trees[treeID]
	if !ok {
		cur = newDirty()
		s.trees[treeID] = cur
	}
	cur.merge(d)
}

// Peek returns a copy of the undrained work of treeID. The result is never
// nil.
func (s *DirtySet) Peek(treeID string) *Dirty {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := newDirty()
	if d, ok := s.trees[treeID]; ok {
		out.merge(d)
	}
	return out
}

// Pending reports whether treeID has undrained work.
func (s *DirtySet) Pending(treeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.trees[treeID].Empty()
}

// PendingTrees returns the ids of trees with undrained work, sorted.
func (s *DirtySet) PendingTrees() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.trees))
	for id, d := range s.trees {
		if !d.Empty() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Forget drops all pending work of a deleted tree.
func (s *DirtySet) Forget(treeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, treeID)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
