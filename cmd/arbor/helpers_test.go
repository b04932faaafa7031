package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/tree"
	"github.com/arborhq/arbor/internal/types"
)

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels([]string{"Release", "Iteration=Sprint", " Story "})
	require.NoError(t, err)
	assert.Equal(t, []types.Level{
		{CardType: "Release"},
		{CardType: "Iteration", RelationshipProperty: "Sprint"},
		{CardType: "Story"},
	}, levels)

	_, err = parseLevels([]string{"Release", "=Sprint"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestLevelIndex(t *testing.T) {
	s := &types.TreeSchema{Name: "Planning", Levels: []types.Level{{CardType: "Release"}, {CardType: "Story"}}}

	tests := []struct {
		ref     string
		want    int
		wantErr bool
	}{
		{"Story", 1, false},
		{"0", 0, false},
		{"2", -1, true},
		{"Task", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := levelIndex(s, tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCascadeMode(t *testing.T) {
	for in, want := range map[string]types.CascadeMode{
		"card":           types.JustThisCard,
		"just_this_card": types.JustThisCard,
		"Children":       types.WithChildren,
		"subtree":        types.WithChildren,
	} {
		got, err := parseCascadeMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseCascadeMode("everything")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestChooseRemoveActionSingleOption(t *testing.T) {
	mode, err := chooseRemoveAction("S1", []tree.RemoveAction{{Mode: types.JustThisCard}})
	require.NoError(t, err)
	assert.Equal(t, types.JustThisCard, mode)

	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })
	_, err = chooseRemoveAction("R1", []tree.RemoveAction{{Mode: types.JustThisCard}, {Mode: types.WithChildren}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestBuildTreeNodes(t *testing.T) {
	schema := &types.TreeSchema{ID: "t1", Name: "Planning", Levels: []types.Level{{CardType: "Release"}, {CardType: "Story"}}}
	snap := membership.FromEdges(schema, []*types.MembershipEdge{
		{CardID: "R1", CardType: "Release", Rank: 1},
		{CardID: "S2", ParentID: "R1", CardType: "Story", Rank: 2},
		{CardID: "S1", ParentID: "R1", CardType: "Story", Rank: 3},
		{CardID: "R2", CardType: "Release", Rank: 4},
	})

	nodes := buildTreeNodes(snap, func(id, cardType string) map[string]string {
		if cardType == "Release" {
			return map[string]string{"Count": id}
		}
		return nil
	})
	require.Len(t, nodes, 2)
	assert.Equal(t, "R1", nodes[0].ID)
	assert.Equal(t, map[string]string{"Count": "R1"}, nodes[0].Properties)
	require.Len(t, nodes[0].Children, 2)
	assert.Equal(t, "S2", nodes[0].Children[0].ID, "sibling order follows rank")
	assert.Equal(t, "Story", nodes[0].Children[1].Type)
	assert.Empty(t, nodes[1].Children)

	assert.Empty(t, buildTreeNodes(membership.NewTree(schema), nil))
}

func TestDescribeAggregate(t *testing.T) {
	assert.Equal(t, "on Release: sum(Estimate) over type:Story", describeAggregate(&types.AggregateDefinition{
		NodeType: "Release", Function: types.FuncSum, SourceProperty: "Estimate", Scope: types.OfType("Story"),
	}))
	assert.Equal(t, "on Iteration: count over direct_children", describeAggregate(&types.AggregateDefinition{
		NodeType: "Iteration", Function: types.FuncCount, Scope: types.DirectChildren(),
	}))
}

func TestIsNoDbCommand(t *testing.T) {
	find := func(args ...string) *cobra.Command {
		c, _, err := rootCmd.Find(args)
		require.NoError(t, err)
		return c
	}
	assert.True(t, isNoDbCommand(find("init")))
	assert.True(t, isNoDbCommand(find("config", "set")))
	assert.True(t, isNoDbCommand(find("version")))
	assert.False(t, isNoDbCommand(find("tree", "show")))
	assert.False(t, isNoDbCommand(find("card", "set")))
}
