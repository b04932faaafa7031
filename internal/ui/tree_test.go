package ui

import (
	"strings"
	"testing"
)

func TestRenderTree(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	roots := []*TreeNode{{
		ID:   "R1",
		Type: "Release",
		Properties: map[string]string{
			"Story Count": "2",
		},
		Children: []*TreeNode{
			{ID: "I1", Type: "Iteration", Children: []*TreeNode{
				{ID: "S1", Type: "Story"},
			}},
			{ID: "I2", Type: "Iteration"},
		},
	}}

	got := RenderTree("Planning", roots)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("RenderTree() = %d lines, want 5:\n%s", len(lines), got)
	}
	for i, want := range []string{"PLANNING", "R1 (Release) Story Count=2", "I1 (Iteration)", "S1 (Story)", "I2 (Iteration)"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want it to contain %q", i, lines[i], want)
		}
	}
	if !strings.Contains(lines[2], TreeBranch) || !strings.Contains(lines[4], TreeLast) {
		t.Errorf("unexpected connectors:\n%s", got)
	}
	if !strings.Contains(lines[3], TreePipe+TreeLast) {
		t.Errorf("nested child should be drawn under a pipe: %q", lines[3])
	}
}

func TestRenderTreeEmpty(t *testing.T) {
	got := RenderTree("Planning", nil)
	if !strings.Contains(got, "(empty)") {
		t.Errorf("RenderTree(nil) = %q", got)
	}
}

func TestRenderTreeTruncatesValues(t *testing.T) {
	long := strings.Repeat("x", DefaultMaxValueChars+10)
	got := RenderTree("T", []*TreeNode{{ID: "A", Type: "Epic", Properties: map[string]string{"Notes": long}}})
	if strings.Contains(got, long) {
		t.Error("long value was not truncated")
	}
	if !strings.Contains(got, "...") {
		t.Errorf("RenderTree() = %q, want ellipsis", got)
	}
}
