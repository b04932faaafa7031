package ui

import (
	"sort"
	"strings"
)

// TreeNode is one card in a rendered tree view.
type TreeNode struct {
	ID         string
	Type       string
	Properties map[string]string
	Children   []*TreeNode
}

// RenderTree draws roots as an indented tree under a header line. Property
// values are truncated to DefaultMaxValueChars.
func RenderTree(title string, roots []*TreeNode) string {
	var b strings.Builder
	b.WriteString(RenderCategory(title))
	b.WriteString("\n")
	if len(roots) == 0 {
		b.WriteString(RenderMuted("(empty)"))
		b.WriteString("\n")
		return b.String()
	}
	for _, n := range roots {
		b.WriteString(renderLabel(n))
		b.WriteString("\n")
		renderChildren(&b, n.Children, "")
	}
	return b.String()
}

func renderChildren(b *strings.Builder, nodes []*TreeNode, prefix string) {
	for i, n := range nodes {
		last := i == len(nodes)-1
		connector, next := TreeBranch, TreePipe
		if last {
			connector, next = TreeLast, TreeIndent
		}
		b.WriteString(prefix)
		b.WriteString(MutedStyle.Render(connector))
		b.WriteString(renderLabel(n))
		b.WriteString("\n")
		renderChildren(b, n.Children, prefix+MutedStyle.Render(next))
	}
}

func renderLabel(n *TreeNode) string {
	label := CardIDStyle.Render(n.ID) + " " + CardTypeStyle.Render("("+n.Type+")")
	if len(n.Properties) == 0 {
		return label
	}
	names := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+TruncateSimple(n.Properties[k], DefaultMaxValueChars))
	}
	return label + " " + PropertyStyle.Render(strings.Join(parts, " "))
}
