package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/arborhq/arbor/internal/storage"
	"github.com/arborhq/arbor/internal/types"
)

func TestApplyPropertiesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.CreateCard(ctx, &types.Card{ID: "S1", Type: "Story"}); err != nil {
		t.Fatal(err)
	}
	if err := m.DefineProperty(ctx, types.PropertyDefinition{Name: "Estimate", Kind: types.PropertyUser, CardTypes: []string{"Story"}}); err != nil {
		t.Fatal(err)
	}

	err := m.ApplyProperties(ctx, []types.PropertyWrite{
		types.Set("S1", "Estimate", "3"),
		types.Set("S1", "Owner", "ann"),
	})
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, set, _ := m.GetProperty(ctx, "S1", "Estimate"); set {
		t.Error("first write landed although the batch failed")
	}

	if err := m.ApplyProperties(ctx, []types.PropertyWrite{types.Set("S1", "Estimate", "3")}); err != nil {
		t.Fatal(err)
	}
	if v, set, _ := m.GetProperty(ctx, "S1", "Estimate"); !set || v != "3" {
		t.Errorf("Estimate = %q, %v", v, set)
	}
	if err := m.ApplyProperties(ctx, []types.PropertyWrite{types.Clear("S1", "Estimate"), types.Clear("S1", "Owner")}); err != nil {
		t.Fatalf("clearing undefined property should succeed: %v", err)
	}
	if _, set, _ := m.GetProperty(ctx, "S1", "Estimate"); set {
		t.Error("Estimate still set after clear")
	}
}

func TestDropPropertyRemovesValues(t *testing.T) {
	ctx := context.Background()
	m := New()
	_ = m.CreateCard(ctx, &types.Card{ID: "R1", Type: "Release"})
	_ = m.DefineProperty(ctx, types.PropertyDefinition{Name: "Count", Kind: types.PropertyAggregate, CardTypes: []string{"Release"}})
	if err := m.ApplyProperties(ctx, []types.PropertyWrite{types.Set("R1", "Count", "2")}); err != nil {
		t.Fatal(err)
	}
	if err := m.DropProperty(ctx, "Count"); err != nil {
		t.Fatal(err)
	}
	if _, set, _ := m.GetProperty(ctx, "R1", "Count"); set {
		t.Error("value survived DropProperty")
	}
	if ok, _ := m.PropertyDefined(ctx, "Release", "Count"); ok {
		t.Error("definition survived DropProperty")
	}
}

func TestCardsAndTypes(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.CreateCard(ctx, &types.Card{ID: "S1", Type: "Story"}); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateCard(ctx, &types.Card{ID: "S1", Type: "Story"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate create error = %v", err)
	}
	if _, err := m.GetCard(ctx, "nope"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("GetCard(nope) error = %v", err)
	}
	old, err := m.SetCardType(ctx, "S1", "Defect")
	if err != nil || old != "Story" {
		t.Fatalf("SetCardType = %q, %v", old, err)
	}
	got, _ := m.ListCards(ctx, storage.CardFilter{Type: "Defect"})
	if len(got) != 1 || got[0].ID != "S1" {
		t.Errorf("ListCards(Defect) = %v", got)
	}
}

func TestTreeStateIsCopied(t *testing.T) {
	ctx := context.Background()
	m := New()
	st := &storage.TreeState{
		Schema: &types.TreeSchema{ID: "t1", Name: "Planning", Levels: []types.Level{{CardType: "Release"}, {CardType: "Story"}}},
		Edges:  []*types.MembershipEdge{{TreeID: "t1", CardID: "R1", CardType: "Release"}},
	}
	if err := m.SaveTree(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.Edges[0].CardID = "changed"

	loaded, err := m.LoadTrees(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].Edges[0].CardID != "R1" {
		t.Fatalf("LoadTrees = %+v", loaded)
	}
	if err := m.DeleteTree(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if loaded, _ := m.LoadTrees(ctx); len(loaded) != 0 {
		t.Errorf("tree survived DeleteTree")
	}
}

func TestDirtyMarksAccumulateUntilCleared(t *testing.T) {
	ctx := context.Background()
	m := New()
	sch := &types.TreeSchema{ID: "t1", Name: "Planning", Levels: []types.Level{{CardType: "Release"}}}
	if err := m.MarkDirty(ctx, "t1", &storage.DirtyMarks{Full: true}); err == nil {
		t.Fatal("MarkDirty on unknown tree should fail")
	}
	if err := m.SaveTree(ctx, &storage.TreeState{Schema: sch, Dirty: &storage.DirtyMarks{Cards: []string{"R1"}}}); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveTree(ctx, &storage.TreeState{Schema: sch, Dirty: &storage.DirtyMarks{Full: true, Detached: []string{"S9"}}}); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkDirty(ctx, "t1", &storage.DirtyMarks{Cards: []string{"R2"}}); err != nil {
		t.Fatal(err)
	}

	loaded, _ := m.LoadTrees(ctx)
	d := loaded[0].Dirty
	if d == nil || !d.Full || len(d.Cards) != 2 || len(d.Detached) != 1 {
		t.Fatalf("Dirty = %+v", d)
	}

	if err := m.ClearDirty(ctx, "t1", &storage.DirtyMarks{Full: true, Cards: []string{"R1"}, Detached: []string{"S9"}}); err != nil {
		t.Fatal(err)
	}
	loaded, _ = m.LoadTrees(ctx)
	d = loaded[0].Dirty
	if d == nil || d.Full || len(d.Cards) != 1 || d.Cards[0] != "R2" {
		t.Fatalf("Dirty after clear = %+v", d)
	}
	if err := m.ClearDirty(ctx, "t1", &storage.DirtyMarks{Cards: []string{"R2"}}); err != nil {
		t.Fatal(err)
	}
	if loaded, _ = m.LoadTrees(ctx); loaded[0].Dirty != nil {
		t.Errorf("Dirty after final clear = %+v", loaded[0].Dirty)
	}
}

func TestLookupProperty(t *testing.T) {
	ctx := context.Background()
	m := New()
	if d, err := m.LookupProperty(ctx, "Estimate"); err != nil || d != nil {
		t.Fatalf("LookupProperty(undefined) = %+v, %v", d, err)
	}
	if err := m.DefineProperty(ctx, types.PropertyDefinition{Name: "Estimate", Kind: types.PropertyUser, CardTypes: []string{"Story"}}); err != nil {
		t.Fatal(err)
	}
	d, err := m.LookupProperty(ctx, "Estimate")
	if err != nil || d == nil || d.Kind != types.PropertyUser || len(d.CardTypes) != 1 {
		t.Fatalf("LookupProperty = %+v, %v", d, err)
	}
}
