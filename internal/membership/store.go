package membership

import (
	"sort"
	"sync"
)

// Store holds the latest published snapshot of every tree. Publishing is a
// pointer swap. Writers of one tree serialise on Lock; readers never block.
type Store struct {
	mu    sync.RWMutex
	trees map[string]*Tree
	locks map[string]*sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{trees: make(map[string]*Tree), locks: make(map[string]*sync.Mutex)}
}

// Lock takes the writer lock of treeID and returns its release function.
// The lock outlives Drop so a writer racing a delete never sees two locks.
func (s *Store) Lock(treeID string) (unlock func()) {
	s.mu.Lock()
	m, ok := s.locks[treeID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[treeID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Snapshot returns the current snapshot of a tree.
func (s *Store) Snapshot(treeID string) (*Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[treeID]
	return t, ok
}

// Publish makes t the current snapshot of its tree.
func (s *Store) Publish(t *Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[t.id] = t
}

// Drop forgets a tree.
func (s *Store) Drop(treeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, treeID)
}

// TreeIDs returns the ids of all trees, sorted.
func (s *Store) TreeIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.trees))
	for id := range s.trees {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// TreesContaining returns the ids of trees in which cardID is a member.
func (s *Store) TreesContaining(cardID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, t := range s.trees {
		if t.IsMember(cardID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
