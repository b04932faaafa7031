package schema

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/arborhq/arbor/internal/types"
)

func levels(typeNames ...string) []types.Level {
	out := make([]types.Level, len(typeNames))
	for i, t := range typeNames {
		out[i] = types.Level{CardType: t}
	}
	return out
}

func mustCreate(t *testing.T, r *Registry, name string, typeNames ...string) *types.TreeSchema {
	t.Helper()
	s, err := r.PrepareCreate(name, levels(typeNames...))
	if err != nil {
		t.Fatalf("PrepareCreate(%q): %v", name, err)
	}
	stored, err := r.Put(s, 0)
	if err != nil {
		t.Fatalf("Put(%q): %v", name, err)
	}
	return stored
}

func TestPrepareCreateValidation(t *testing.T) {
	r := NewRegistry()
	mustCreate(t, r, "Planning", "Release", "Iteration", "Story")

	tests := []struct {
		name   string
		tree   string
		levels []types.Level
	}{
		{"too few levels", "Solo", levels("Story")},
		{"duplicate types", "Dup", levels("Story", "Task", "story")},
		{"empty type", "Blank", levels("Story", " ")},
		{"reserved name", "NONE", levels("Epic", "Story")},
		{"existing name differs in case", "planning", levels("Epic", "Story")},
		{"restricted character", "a=b", levels("Epic", "Story")},
		{"empty name", "  ", levels("Epic", "Story")},
		{"property collides with other tree", "Other", []types.Level{
			{CardType: "Epic", RelationshipProperty: "Planning - Release"},
			{CardType: "Story"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.PrepareCreate(tt.tree, tt.levels)
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("PrepareCreate(%q) error = %v, want ErrValidation", tt.tree, err)
			}
		})
	}
}

func TestPrepareCreateGeneratesProperties(t *testing.T) {
	r := NewRegistry()
	s := mustCreate(t, r, "Planning", "Release", "Iteration")
	if s.Levels[0].RelationshipProperty != "Planning - Release" {
		t.Errorf("property = %q, want generated name", s.Levels[0].RelationshipProperty)
	}
	if s.Version != 1 {
		t.Errorf("version = %d, want 1", s.Version)
	}
	if s.ID == "" {
		t.Error("expected generated id")
	}
}

func TestPrepareReconfigure(t *testing.T) {
	r := NewRegistry()
	s := mustCreate(t, r, "Planning", "Release", "Iteration", "Story")

	t.Run("swap is rejected", func(t *testing.T) {
		_, err := r.PrepareReconfigure(s.ID, levels("Iteration", "Release", "Story"))
		var reorder *types.ReorderNotAllowedError
		if !errors.As(err, &reorder) {
			t.Fatalf("error = %v, want ReorderNotAllowedError", err)
		}
	})

	t.Run("insertion in the middle is rejected", func(t *testing.T) {
		_, err := r.PrepareReconfigure(s.ID, levels("Release", "Feature", "Iteration", "Story"))
		if !errors.Is(err, types.ErrReorderNotAllowed) {
			t.Fatalf("error = %v, want ErrReorderNotAllowed", err)
		}
	})

	t.Run("append", func(t *testing.T) {
		rc, err := r.PrepareReconfigure(s.ID, levels("Release", "Iteration", "Story", "Task"))
		if err != nil {
			t.Fatalf("PrepareReconfigure: %v", err)
		}
		if len(rc.Added) != 1 || rc.Added[0].CardType != "Task" || len(rc.Removed) != 0 {
			t.Errorf("added=%v removed=%v", rc.Added, rc.Removed)
		}
		if rc.Next.Levels[0].RelationshipProperty != s.Levels[0].RelationshipProperty {
			t.Error("kept level lost its property")
		}
	})

	t.Run("truncate", func(t *testing.T) {
		rc, err := r.PrepareReconfigure(s.ID, levels("Release", "Iteration"))
		if err != nil {
			t.Fatalf("PrepareReconfigure: %v", err)
		}
		if len(rc.Removed) != 1 || rc.Removed[0].CardType != "Story" {
			t.Errorf("removed = %v", rc.Removed)
		}
	})

	t.Run("rename of kept property is rejected", func(t *testing.T) {
		lv := levels("Release", "Iteration", "Story")
		lv[0].RelationshipProperty = "Renamed"
		if _, err := r.PrepareReconfigure(s.ID, lv); !errors.Is(err, types.ErrValidation) {
			t.Fatalf("error = %v, want ErrValidation", err)
		}
	})
}

func TestRemoveLevelThenReAddAtEnd(t *testing.T) {
	r := NewRegistry()
	s := mustCreate(t, r, "Planning", "Release", "Iteration", "Story")

	rc, err := r.PrepareRemoveLevel(s.ID, 1)
	if err != nil {
		t.Fatalf("PrepareRemoveLevel: %v", err)
	}
	stored, err := r.Put(rc.Next, s.Version)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := stored.Types(); len(got) != 2 || got[1] != "Story" {
		t.Fatalf("types = %v", got)
	}

	rc, err = r.PrepareReconfigure(s.ID, levels("Release", "Story", "Iteration"))
	if err != nil {
		t.Fatalf("re-adding at the end: %v", err)
	}
	if _, err := r.Put(rc.Next, stored.Version); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestPrepareRemoveLevelKeepsTwoLevels(t *testing.T) {
	r := NewRegistry()
	s := mustCreate(t, r, "Planning", "Release", "Iteration")
	if _, err := r.PrepareRemoveLevel(s.ID, 0); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, err := r.PrepareRemoveLevel(s.ID, 5); !errors.Is(err, types.ErrValidation) {
		t.Fatalf("out of range error = %v, want ErrValidation", err)
	}
}

func TestPutRejectsStaleVersion(t *testing.T) {
	r := NewRegistry()
	s := mustCreate(t, r, "Planning", "Release", "Iteration")

	rc, err := r.PrepareReconfigure(s.ID, levels("Release", "Iteration", "Story"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Put(rc.Next, s.Version); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Put(rc.Next, s.Version); !errors.Is(err, types.ErrStaleChange) {
		t.Fatalf("second Put error = %v, want ErrStaleChange", err)
	}
	if err := r.Delete(s.ID, s.Version); !errors.Is(err, types.ErrStaleChange) {
		t.Fatalf("Delete error = %v, want ErrStaleChange", err)
	}
}

func TestPutRechecksNameUniqueness(t *testing.T) {
	r := NewRegistry()
	first, err := r.PrepareCreate("Planning", levels("Release", "Story"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.PrepareCreate("planning", levels("Epic", "Feature"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Put(first, 0); err != nil {
		t.Fatal(err)
	}
	var ve *types.ValidationError
	if _, err := r.Put(second, 0); !errors.As(err, &ve) || ve.Field != "name" {
		t.Fatalf("Put of a prepared duplicate = %v, want name validation error", err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("List() = %d trees, want 1", len(r.List()))
	}
}

func TestConcurrentCreatesWithOneNameAdmitOne(t *testing.T) {
	r := NewRegistry()
	const n = 16
	var (
		wg  sync.WaitGroup
		won int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.PrepareCreate("Planning", levels("Release", "Story"))
			if err != nil {
				return
			}
			if _, err := r.Put(s, 0); err == nil {
				atomic.AddInt32(&won, 1)
			}
		}()
	}
	wg.Wait()
	if won != 1 || len(r.List()) != 1 {
		t.Fatalf("%d creates succeeded, %d trees stored; want exactly 1", won, len(r.List()))
	}
}

func TestLookupByName(t *testing.T) {
	r := NewRegistry()
	s := mustCreate(t, r, "Planning", "Release", "Iteration")
	got, ok := r.Lookup("PLANNING")
	if !ok || got.ID != s.ID {
		t.Fatalf("Lookup by name = %v, %v", got, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected miss")
	}
}
