package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func testSchema() *TreeSchema {
	return &TreeSchema{ID: "t1", Name: "Planning", Version: 1, Levels: []Level{
		{CardType: "Release", RelationshipProperty: "Planning - Release"},
		{CardType: "Iteration", RelationshipProperty: "Planning - Iteration"},
		{CardType: "Story", RelationshipProperty: "Planning - Story"},
	}}
}

func TestTreeSchemaLookups(t *testing.T) {
	s := testSchema()
	if got := s.LevelOf("Iteration"); got != 1 {
		t.Errorf("LevelOf(Iteration) = %d, want 1", got)
	}
	if got := s.LevelOf("Task"); got != -1 {
		t.Errorf("LevelOf(Task) = %d, want -1", got)
	}
	if got := s.LevelOfProperty("Planning - Story"); got != 2 {
		t.Errorf("LevelOfProperty = %d, want 2", got)
	}
	if !s.IsLeafType("Story") || s.IsLeafType("Release") {
		t.Error("IsLeafType should only hold for the last level")
	}
	if got := s.Types(); !reflect.DeepEqual(got, []string{"Release", "Iteration", "Story"}) {
		t.Errorf("Types() = %v", got)
	}
	if got := s.Properties(); len(got) != 3 || got[0] != "Planning - Release" {
		t.Errorf("Properties() = %v", got)
	}
}

func TestTreeSchemaCloneIsDeep(t *testing.T) {
	s := testSchema()
	c := s.Clone()
	c.Levels[0].CardType = "Epic"
	c.Levels = append(c.Levels, Level{CardType: "Task"})
	if s.Levels[0].CardType != "Release" || len(s.Levels) != 3 {
		t.Errorf("Clone shares levels with the original: %+v", s.Levels)
	}
	var nilSchema *TreeSchema
	if nilSchema.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestDefaultRelationshipProperty(t *testing.T) {
	if got := DefaultRelationshipProperty("Planning", "Story"); got != "Planning - Story" {
		t.Errorf("got %q", got)
	}
}

func TestCascadeModeIsValid(t *testing.T) {
	tests := []struct {
		mode CascadeMode
		want bool
	}{
		{JustThisCard, true},
		{WithChildren, true},
		{"", false},
		{"everything", false},
	}
	for _, tt := range tests {
		if got := tt.mode.IsValid(); got != tt.want {
			t.Errorf("CascadeMode(%q).IsValid() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestParseAggregateFunction(t *testing.T) {
	tests := []struct {
		in      string
		want    AggregateFunction
		wantErr bool
	}{
		{"count", FuncCount, false},
		{"SUM", FuncSum, false},
		{" Avg ", FuncAvg, false},
		{"min", FuncMin, false},
		{"max", FuncMax, false},
		{"median", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAggregateFunction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
	if FuncCount.NeedsSource() || !FuncSum.NeedsSource() {
		t.Error("only count folds without a source property")
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"all", AllDescendants(), false},
		{"descendants", AllDescendants(), false},
		{"children", DirectChildren(), false},
		{"DIRECT", DirectChildren(), false},
		{"type:Story", OfType("Story"), false},
		{"type: Story ", OfType("Story"), false},
		{"type:", Scope{}, true},
		{"siblings", Scope{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
	if s := OfType("Story").String(); s != "type:Story" {
		t.Errorf("String() = %q", s)
	}
	if s := DirectChildren().String(); s != "direct_children" {
		t.Errorf("String() = %q", s)
	}
}

func TestPropertyWriteHelpers(t *testing.T) {
	w := Set("S1", "Estimate", "3")
	if w.Value == nil || *w.Value != "3" {
		t.Errorf("Set produced %+v", w)
	}
	if c := Clear("S1", "Estimate"); c.Value != nil {
		t.Errorf("Clear produced a value: %v", *c.Value)
	}
}

func TestMembershipEdgeJSON(t *testing.T) {
	e := MembershipEdge{TreeID: "t1", CardID: "R1", CardType: "Release", Rank: 1}
	if !e.IsRoot() {
		t.Error("edge without parent should be a root")
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"tree_id":"t1","card_id":"R1","card_type":"Release","rank":1}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	tests := []struct {
		err  error
		is   error
		code string
	}{
		{Invalid("name", "empty"), ErrValidation, "validation_error"},
		{&ReorderNotAllowedError{TreeID: "t1"}, ErrReorderNotAllowed, "reorder_not_allowed"},
		{&TypeMismatchError{TreeID: "t1", CardID: "S1"}, ErrTypeMismatch, "type_mismatch"},
		{&AlreadyMemberElsewhereError{TreeID: "t1", CardID: "S1"}, ErrAlreadyMemberElsewhere, "already_member_elsewhere"},
		{&NotAMemberError{TreeID: "t1", CardID: "S1"}, ErrNotAMember, "not_a_member"},
		{&AmbiguousPlacementError{TreeID: "t1", CardID: "S1"}, ErrAmbiguousPlacement, "ambiguous_placement"},
		{&DependentArtifactWarning{TreeID: "t1"}, ErrDependentArtifacts, "dependent_artifact_warning"},
		{fmt.Errorf("commit: %w", ErrStaleChange), ErrStaleChange, "stale_change"},
		{fmt.Errorf("card S1: %w", ErrNotFound), ErrNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if !errors.Is(tt.err, tt.is) {
				t.Errorf("%v does not unwrap to %v", tt.err, tt.is)
			}
			if got := ErrorCode(tt.err); got != tt.code {
				t.Errorf("ErrorCode = %q, want %q", got, tt.code)
			}
		})
	}
	if ErrorCode(nil) != "" || ErrorCode(errors.New("boom")) != "" {
		t.Error("unknown errors have no code")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			&ValidationError{TreeID: "t1", Field: "levels", Reason: "need at least 2"},
			"validation error in tree t1 (levels): need at least 2",
		},
		{
			&AlreadyMemberElsewhereError{TreeID: "t1", CardID: "S1", CurrentParentID: "I1"},
			"tree t1: card S1 is already a member under I1 (requested root); use move instead",
		},
		{
			&TypeMismatchError{TreeID: "t1", CardID: "S1", CardType: "Story", ExpectedType: "Iteration"},
			`tree t1: card S1 of type "Story", expected type "Iteration"`,
		},
		{
			&DependentArtifactWarning{TreeID: "t1", Operation: "delete", Artifacts: []Artifact{
				{Kind: ArtifactAggregateDefinition, Name: "Points"},
			}},
			`delete on tree t1 will delete 1 dependent artifact(s): aggregate_definition "Points"`,
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q\nwant      %q", got, tt.want)
		}
	}

	amb := &AmbiguousPlacementError{Property: "Planning - Release", Conflicts: "Planning - Iteration"}
	if got := amb.Properties(); !reflect.DeepEqual(got, []string{"Planning - Release", "Planning - Iteration"}) {
		t.Errorf("Properties() = %v", got)
	}
}
