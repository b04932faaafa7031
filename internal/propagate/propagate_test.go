package propagate

import (
	"errors"
	"reflect"
	"testing"

	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/types"
)

const (
	propRelease   = "Planning - Release"
	propIteration = "Planning - Iteration"
	propStory     = "Planning - Story"
)

func planningTree(t *testing.T) *membership.Tree {
	t.Helper()
	schema := &types.TreeSchema{ID: "t1", Name: "Planning", Levels: []types.Level{
		{CardType: "Release", RelationshipProperty: propRelease},
		{CardType: "Iteration", RelationshipProperty: propIteration},
		{CardType: "Story", RelationshipProperty: propStory},
	}}
	tx := membership.NewTree(schema).Begin()
	for _, a := range [][3]string{
		{"A", "Release", ""},
		{"B", "Release", ""},
		{"IA", "Iteration", "A"},
		{"IB", "Iteration", "B"},
		{"S1", "Story", "IA"},
	} {
		if err := tx.Attach(a[0], a[1], a[2]); err != nil {
			t.Fatal(err)
		}
	}
	return tx.Freeze()
}

func TestValues(t *testing.T) {
	tr := planningTree(t)
	want := map[string]string{propRelease: "A", propIteration: "IA"}
	if got := Values(tr, "S1"); !reflect.DeepEqual(got, want) {
		t.Errorf("Values(S1) = %v, want %v", got, want)
	}
	if got := Values(tr, "A"); len(got) != 0 {
		t.Errorf("Values(A) = %v, want none", got)
	}
	if got := Values(tr, "missing"); len(got) != 0 {
		t.Errorf("Values(missing) = %v, want none", got)
	}
}

func TestDiffAfterMove(t *testing.T) {
	before := planningTree(t)
	tx := before.Begin()
	if err := tx.Reparent("S1", "IB"); err != nil {
		t.Fatal(err)
	}
	after := tx.Freeze()

	got := Diff(before, after, []string{"S1", "S1"})
	want := []types.PropertyWrite{types.Set("S1", propRelease, "B"), types.Set("S1", propIteration, "IB")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Diff = %+v, want %+v", got, want)
	}
}

func TestDiffClearsDetached(t *testing.T) {
	before := planningTree(t)
	tx := before.Begin()
	tx.Detach("S1")
	after := tx.Freeze()

	got := Diff(before, after, []string{"S1"})
	want := []types.PropertyWrite{types.Clear("S1", propRelease), types.Clear("S1", propIteration)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Diff = %+v, want %+v", got, want)
	}
}

func TestResolve(t *testing.T) {
	tr := planningTree(t)
	tests := []struct {
		name   string
		req    Request
		want   Placement
		wantIs error
	}{
		{
			name: "iteration derives release",
			req:  Request{CardID: "S1", CardType: "Story", Values: map[string]string{propIteration: "IB"}},
			want: Placement{Place: true, ParentID: "IB"},
		},
		{
			name: "grandparent only drops the stale iteration",
			req:  Request{CardID: "S1", CardType: "Story", Values: map[string]string{propRelease: "B"}},
			want: Placement{Place: true, ParentID: "B"},
		},
		{
			name: "consistent pair",
			req:  Request{CardID: "S1", CardType: "Story", Values: map[string]string{propRelease: "B", propIteration: "IB"}},
			want: Placement{Place: true, ParentID: "IB"},
		},
		{
			name:   "conflicting pair",
			req:    Request{CardID: "S1", CardType: "Story", Values: map[string]string{propRelease: "A", propIteration: "IB"}},
			wantIs: types.ErrAmbiguousPlacement,
		},
		{
			name: "clear iteration keeps release",
			req:  Request{CardID: "S1", CardType: "Story", Values: map[string]string{propIteration: ""}},
			want: Placement{Place: true, ParentID: "A"},
		},
		{
			name: "clear all moves member to root",
			req:  Request{CardID: "S1", CardType: "Story", Values: map[string]string{propIteration: "", propRelease: ""}},
			want: Placement{Place: true},
		},
		{
			name: "non-member with nothing set stays out",
			req:  Request{CardID: "S9", CardType: "Story", Values: map[string]string{propIteration: ""}},
			want: Placement{},
		},
		{
			name: "non-member is placed",
			req:  Request{CardID: "S9", CardType: "Story", Values: map[string]string{propIteration: "IA"}},
			want: Placement{Place: true, ParentID: "IA"},
		},
		{
			name:   "own level property",
			req:    Request{CardID: "IA", CardType: "Iteration", Values: map[string]string{propIteration: "IB"}},
			wantIs: types.ErrTypeMismatch,
		},
		{
			name:   "value of wrong type",
			req:    Request{CardID: "S1", CardType: "Story", Values: map[string]string{propIteration: "A"}},
			wantIs: types.ErrTypeMismatch,
		},
		{
			name:   "value not in tree",
			req:    Request{CardID: "S1", CardType: "Story", Values: map[string]string{propIteration: "I9"}},
			wantIs: types.ErrNotAMember,
		},
		{
			name:   "unknown property",
			req:    Request{CardID: "S1", CardType: "Story", Values: map[string]string{"Owner": "x"}},
			wantIs: types.ErrValidation,
		},
		{
			name:   "card type outside tree",
			req:    Request{CardID: "D1", CardType: "Defect", Values: map[string]string{propRelease: "A"}},
			wantIs: types.ErrTypeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tr, tt.req)
			if tt.wantIs != nil {
				if !errors.Is(err, tt.wantIs) {
					t.Fatalf("error = %v, want %v", err, tt.wantIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveAmbiguityNamesBothProperties(t *testing.T) {
	tr := planningTree(t)
	_, err := Resolve(tr, Request{CardID: "S1", CardType: "Story", Values: map[string]string{propRelease: "A", propIteration: "IB"}})
	var amb *types.AmbiguousPlacementError
	if !errors.As(err, &amb) {
		t.Fatalf("error = %v, want AmbiguousPlacementError", err)
	}
	if got := amb.Properties(); !reflect.DeepEqual(got, []string{propRelease, propIteration}) {
		t.Errorf("Properties() = %v", got)
	}
}
