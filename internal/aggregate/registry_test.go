package aggregate

import (
	"errors"
	"sync"
	"testing"

	"github.com/arborhq/arbor/internal/types"
)

func planning() *types.TreeSchema {
	return &types.TreeSchema{ID: "t1", Name: "Planning", Levels: []types.Level{
		{CardType: "Release", RelationshipProperty: "Planning - Release"},
		{CardType: "Iteration", RelationshipProperty: "Planning - Iteration"},
		{CardType: "Story", RelationshipProperty: "Planning - Story"},
	}}
}

func TestPrepareValidation(t *testing.T) {
	r := NewRegistry()
	existing, err := r.Prepare(planning(), types.AggregateDefinition{Name: "Stories", NodeType: "Release", Function: types.FuncCount, Scope: types.AllDescendants()})
	if err != nil {
		t.Fatal(err)
	}
	r.Add(existing)

	tests := []struct {
		name    string
		def     types.AggregateDefinition
		wantErr bool
	}{
		{"count without source", types.AggregateDefinition{Name: "N", NodeType: "Iteration", Function: types.FuncCount, Scope: types.DirectChildren()}, false},
		{"sum with source", types.AggregateDefinition{Name: "Total", NodeType: "Release", Function: types.FuncSum, SourceProperty: "Estimate", Scope: types.OfType("Story")}, false},
		{"sum without source", types.AggregateDefinition{Name: "Total", NodeType: "Release", Function: types.FuncSum, Scope: types.AllDescendants()}, true},
		{"leaf node type", types.AggregateDefinition{Name: "X", NodeType: "Story", Function: types.FuncCount, Scope: types.AllDescendants()}, true},
		{"node type outside tree", types.AggregateDefinition{Name: "X", NodeType: "Defect", Function: types.FuncCount, Scope: types.AllDescendants()}, true},
		{"scope type above node", types.AggregateDefinition{Name: "X", NodeType: "Iteration", Function: types.FuncCount, Scope: types.OfType("Release")}, true},
		{"scope type is node", types.AggregateDefinition{Name: "X", NodeType: "Iteration", Function: types.FuncCount, Scope: types.OfType("Iteration")}, true},
		{"unknown function", types.AggregateDefinition{Name: "X", NodeType: "Release", Function: "median", SourceProperty: "Estimate", Scope: types.AllDescendants()}, true},
		{"empty name", types.AggregateDefinition{NodeType: "Release", Function: types.FuncCount, Scope: types.AllDescendants()}, true},
		{"restricted character", types.AggregateDefinition{Name: "a;b", NodeType: "Release", Function: types.FuncCount, Scope: types.AllDescendants()}, true},
		{"duplicate name any case", types.AggregateDefinition{Name: "stories", NodeType: "Iteration", Function: types.FuncCount, Scope: types.AllDescendants()}, true},
		{"relationship property name", types.AggregateDefinition{Name: "Planning - Story", NodeType: "Release", Function: types.FuncCount, Scope: types.AllDescendants()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Prepare(planning(), tt.def)
			if tt.wantErr {
				if !errors.Is(err, types.ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if got.ID == "" || got.TreeID != "t1" {
				t.Errorf("prepared definition = %+v", got)
			}
		})
	}
}

func TestCountDropsSourceProperty(t *testing.T) {
	got, err := NewRegistry().Prepare(planning(), types.AggregateDefinition{Name: "N", NodeType: "Release", Function: types.FuncCount, SourceProperty: "Estimate", Scope: types.AllDescendants()})
	if err != nil {
		t.Fatal(err)
	}
	if got.SourceProperty != "" {
		t.Errorf("SourceProperty = %q, want empty for count", got.SourceProperty)
	}
}

func TestDependingOnAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Load([]*types.AggregateDefinition{
		{ID: "a", TreeID: "t1", Name: "On Iteration", NodeType: "Iteration", Function: types.FuncCount, Scope: types.AllDescendants()},
		{ID: "b", TreeID: "t1", Name: "Iterations per Release", NodeType: "Release", Function: types.FuncCount, Scope: types.OfType("Iteration")},
		{ID: "c", TreeID: "t1", Name: "Stories", NodeType: "Release", Function: types.FuncCount, Scope: types.OfType("Story")},
		{ID: "d", TreeID: "t2", Name: "Other", NodeType: "Iteration", Function: types.FuncCount, Scope: types.AllDescendants()},
	})

	deps := r.DependingOn("t1", []string{"Iteration"})
	if len(deps) != 2 || deps[0].ID != "b" || deps[1].ID != "a" {
		t.Errorf("DependingOn = %+v", deps)
	}
	if d, ok := r.Lookup("t1", "STORIES"); !ok || d.ID != "c" {
		t.Errorf("Lookup by name = %+v, %v", d, ok)
	}
	if _, ok := r.Lookup("t1", "d"); ok {
		t.Error("Lookup found a definition of another tree")
	}
	r.Remove("c")
	if _, ok := r.Get("c"); ok {
		t.Error("definition survived Remove")
	}
}

func TestScopeTypes(t *testing.T) {
	s := planning()
	got := ScopeTypes(s, &types.AggregateDefinition{NodeType: "Release", Scope: types.DirectChildren()})
	if len(got) != 2 || got[0] != "Iteration" || got[1] != "Story" {
		t.Errorf("ScopeTypes(children) = %v", got)
	}
	got = ScopeTypes(s, &types.AggregateDefinition{NodeType: "Release", Scope: types.OfType("Story")})
	if len(got) != 1 || got[0] != "Story" {
		t.Errorf("ScopeTypes(type) = %v", got)
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		name        string
		fn          types.AggregateFunction
		size        int
		values      []string
		want        string
		wantSet     bool
		wantIgnored int
	}{
		{"count", types.FuncCount, 3, nil, "3", true, 0},
		{"count empty", types.FuncCount, 0, nil, "0", true, 0},
		{"sum", types.FuncSum, 3, []string{"1", "2.5", " 3 "}, "6.5", true, 0},
		{"sum skips text", types.FuncSum, 2, []string{"4", "n/a"}, "4", true, 1},
		{"avg", types.FuncAvg, 3, []string{"1", "2", "6"}, "3", true, 0},
		{"min", types.FuncMin, 3, []string{"5", "-2", "7"}, "-2", true, 0},
		{"max", types.FuncMax, 3, []string{"5", "-2", "7"}, "7", true, 0},
		{"empty numeric scope", types.FuncSum, 0, nil, "", false, 0},
		{"only text", types.FuncMax, 1, []string{"high"}, "", false, 1},
		{"nan ignored", types.FuncSum, 2, []string{"NaN", "1"}, "1", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, set, ignored := Fold(tt.fn, tt.size, tt.values)
			if got != tt.want || set != tt.wantSet || ignored != tt.wantIgnored {
				t.Errorf("Fold = (%q, %v, %d), want (%q, %v, %d)", got, set, ignored, tt.want, tt.wantSet, tt.wantIgnored)
			}
		})
	}
}

func TestDirtySetDrainRestore(t *testing.T) {
	s := NewDirtySet()
	var mu sync.Mutex
	var notified []string
	s.OnMark(func(id string) {
		mu.Lock()
		notified = append(notified, id)
		mu.Unlock()
	})

	s.MarkCards("t1", "R1", "", "I1")
	s.MarkDetached("t1", "S9")
	s.MarkCards("t2")
	if !s.Pending("t1") || s.Pending("t2") {
		t.Fatalf("Pending t1=%v t2=%v", s.Pending("t1"), s.Pending("t2"))
	}

	d := s.Drain("t1")
	if got := d.CardIDs(); len(got) != 2 || got[0] != "I1" || got[1] != "R1" {
		t.Errorf("CardIDs = %v", got)
	}
	if got := d.DetachedIDs(); len(got) != 1 || got[0] != "S9" {
		t.Errorf("DetachedIDs = %v", got)
	}
	if s.Pending("t1") {
		t.Error("still pending after Drain")
	}

	s.MarkFull("t1")
	s.Restore("t1", d)
	again := s.Drain("t1")
	if !again.Full || len(again.Cards) != 2 || len(again.Detached) != 1 {
		t.Errorf("restored = %+v", again)
	}
	if !s.Drain("t3").Empty() {
		t.Error("Drain of unknown tree should be empty")
	}
	if len(notified) != 3 {
		t.Errorf("notified = %v, want 3 marks", notified)
	}
}
