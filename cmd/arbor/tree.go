package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/membership"
	"github.com/arborhq/arbor/internal/tree"
	"github.com/arborhq/arbor/internal/types"
	"github.com/arborhq/arbor/internal/ui"
)

var treeCmd = &cobra.Command{
	Use:     "tree",
	Short:   "Place cards in trees and query membership",
	GroupID: "trees",
}

// parseCascadeMode accepts the short names used on the command line.
func parseCascadeMode(s string) (types.CascadeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "card", "just", "just_this_card":
		return types.JustThisCard, nil
	case "children", "with_children", "subtree":
		return types.WithChildren, nil
	}
	return "", types.Invalid("mode", "unknown removal mode %q (want card or children)", s)
}

// chooseRemoveAction asks which removal to run when more than one applies.
func chooseRemoveAction(cardID string, actions []tree.RemoveAction) (types.CascadeMode, error) {
	if len(actions) == 1 {
		return actions[0].Mode, nil
	}
	if jsonOutput || !ui.IsTerminal() {
		return "", types.Invalid("mode", "card %s has children; pass --mode card or --mode children", cardID)
	}
	opts := make([]huh.Option[types.CascadeMode], 0, len(actions))
	for _, a := range actions {
		opts = append(opts, huh.NewOption(a.Label, a.Mode))
	}
	var mode types.CascadeMode
	err := huh.NewSelect[types.CascadeMode]().
		Title(fmt.Sprintf("Remove %s from the tree", cardID)).
		Options(opts...).
		Value(&mode).
		WithTheme(huh.ThemeDracula()).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", errNotConfirmed
	}
	return mode, err
}

// buildTreeNodes converts a membership snapshot into render nodes.
// props supplies the properties shown next to each card.
func buildTreeNodes(t *membership.Tree, props func(cardID, cardType string) map[string]string) []*ui.TreeNode {
	var build func(parent string) []*ui.TreeNode
	build = func(parent string) []*ui.TreeNode {
		ids := t.Children(parent)
		nodes := make([]*ui.TreeNode, 0, len(ids))
		for _, id := range ids {
			edge, _ := t.Edge(id)
			n := &ui.TreeNode{ID: id, Type: edge.CardType, Children: build(id)}
			if props != nil {
				n.Properties = props(id, edge.CardType)
			}
			nodes = append(nodes, n)
		}
		return nodes
	}
	return build("")
}

// aggregateValues returns the aggregate properties computed on a card.
func aggregateValues(defs []*types.AggregateDefinition) func(cardID, cardType string) map[string]string {
	return func(cardID, cardType string) map[string]string {
		out := make(map[string]string)
		for _, d := range defs {
			if !strings.EqualFold(d.NodeType, cardType) {
				continue
			}
			if v, ok, err := ws.Store.GetProperty(rootCtx, cardID, d.Name); err == nil && ok {
				out[d.Name] = v
			}
		}
		return out
	}
}

var treeAddCmd = &cobra.Command{
	Use:   "add <tree> <card> [parent]",
	Short: "Add a card to a tree, as a root or under a parent",
	Args:  cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		parent := ""
		if len(args) == 3 {
			parent = args[2]
		}
		exitOnError(ws.Engine.AddToTree(rootCtx, args[0], args[1], parent))
		respond(map[string]string{"tree": args[0], "card": args[1], "parent": parent}, func() {
			if parent == "" {
				printOK("added %s to %s", args[1], args[0])
				return
			}
			printOK("added %s to %s under %s", args[1], args[0], parent)
		})
	},
}

var treeMoveCmd = &cobra.Command{
	Use:   "move <tree> <card> [new-parent]",
	Short: "Move a card with its subtree (omit the parent to make it a root)",
	Args:  cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		parent := ""
		if len(args) == 3 {
			parent = args[2]
		}
		exitOnError(ws.Engine.MoveTo(rootCtx, args[0], args[1], parent))
		respond(map[string]string{"tree": args[0], "card": args[1], "parent": parent}, func() {
			printOK("moved %s in %s", args[1], args[0])
		})
	},
}

var treeRemoveCmd = &cobra.Command{
	Use:   "remove <tree> <card>",
	Short: "Remove a card from a tree",
	Long: `Remove a card from a tree. With --mode card its children move up to its
parent; with --mode children its whole subtree leaves the tree. Without
--mode the choice is prompted for when the card can have children.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		raw, _ := cmd.Flags().GetString("mode")
		var mode types.CascadeMode
		var err error
		if raw != "" {
			mode, err = parseCascadeMode(raw)
		} else {
			var actions []tree.RemoveAction
			actions, err = ws.Engine.AvailableRemoveActions(args[0], args[1])
			exitOnError(err)
			mode, err = chooseRemoveAction(args[1], actions)
		}
		exitOnError(err)
		exitOnError(ws.Engine.RunRemoveAction(rootCtx, args[0], args[1], mode))
		respond(map[string]string{"tree": args[0], "card": args[1], "mode": string(mode)}, func() {
			printOK("removed %s from %s", args[1], args[0])
		})
	},
}

var treeReorderCmd = &cobra.Command{
	Use:   "reorder <tree> <card> <index>",
	Short: "Move a card to a position among its siblings",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		index, err := strconv.Atoi(args[2])
		if err != nil {
			FatalError("index must be a number: %s", args[2])
		}
		exitOnError(ws.Engine.Reorder(rootCtx, args[0], args[1], index))
		respond(map[string]interface{}{"tree": args[0], "card": args[1], "index": index}, func() {
			printOK("moved %s to position %d", args[1], index)
		})
	},
}

func printIDs(ids []string) {
	respond(ids, func() {
		for _, id := range ids {
			fmt.Println(id)
		}
	})
}

var treeAncestorsCmd = &cobra.Command{
	Use:   "ancestors <tree> <card>",
	Short: "List a card's ancestors, root first",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ids, err := ws.Engine.AncestorChain(args[0], args[1])
		exitOnError(err)
		printIDs(ids)
	},
}

var treeDescendantsCmd = &cobra.Command{
	Use:   "descendants <tree> <card>",
	Short: "List a card's descendants",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		raw, _ := cmd.Flags().GetString("scope")
		scope, err := types.ParseScope(raw)
		exitOnError(err)
		ids, err := ws.Engine.Descendants(args[0], args[1], scope)
		exitOnError(err)
		printIDs(ids)
	},
}

var treeChildrenCmd = &cobra.Command{
	Use:   "children <tree> [card]",
	Short: "List the children of a card, or the roots of the tree",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		parent := ""
		if len(args) == 2 {
			parent = args[1]
		}
		ids, err := ws.Engine.Children(args[0], parent)
		exitOnError(err)
		printIDs(ids)
	},
}

var treeShowCmd = &cobra.Command{
	Use:   "show <tree>",
	Short: "Draw a tree with its aggregate values",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		snap, err := ws.Engine.Snapshot(args[0])
		exitOnError(err)
		if jsonOutput {
			edges, err := ws.Engine.Members(args[0])
			exitOnError(err)
			outputJSON(edges)
			return
		}
		defs, err := ws.Engine.Aggregates(snap.ID())
		exitOnError(err)
		fmt.Print(ui.RenderTree(snap.Schema().Name, buildTreeNodes(snap, aggregateValues(defs))))
	},
}

func init() {
	treeRemoveCmd.Flags().String("mode", "", "card (children move up) or children (remove the subtree)")
	treeDescendantsCmd.Flags().String("scope", "all", "all, children or type:<card type>")

	treeCmd.AddCommand(treeAddCmd, treeMoveCmd, treeRemoveCmd, treeReorderCmd,
		treeAncestorsCmd, treeDescendantsCmd, treeChildrenCmd, treeShowCmd)
	rootCmd.AddCommand(treeCmd)
}
