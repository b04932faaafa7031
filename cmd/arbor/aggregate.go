package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/types"
	"github.com/arborhq/arbor/internal/ui"
)

var aggregateCmd = &cobra.Command{
	Use:     "aggregate",
	Aliases: []string{"agg"},
	Short:   "Define aggregate properties computed over tree descendants",
	GroupID: "trees",
}

func describeAggregate(d *types.AggregateDefinition) string {
	fn := string(d.Function)
	if d.Function.NeedsSource() {
		fn += "(" + d.SourceProperty + ")"
	}
	return fmt.Sprintf("on %s: %s over %s", d.NodeType, fn, d.Scope)
}

var aggregateDefineCmd = &cobra.Command{
	Use:   "define <tree> <name>",
	Short: "Define an aggregate property on one level of a tree",
	Example: `  arbor aggregate define Planning "Story Points" --node Release --function sum --source Estimate --scope type:Story
  arbor aggregate define Planning "Story Count" --node Iteration --function count --scope children`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		node, _ := cmd.Flags().GetString("node")
		rawFn, _ := cmd.Flags().GetString("function")
		source, _ := cmd.Flags().GetString("source")
		rawScope, _ := cmd.Flags().GetString("scope")

		fn, err := types.ParseAggregateFunction(rawFn)
		exitOnError(err)
		scope, err := types.ParseScope(rawScope)
		exitOnError(err)
		def, err := ws.Engine.DefineAggregate(rootCtx, args[0], types.AggregateDefinition{
			Name:           args[1],
			NodeType:       node,
			Function:       fn,
			SourceProperty: source,
			Scope:          scope,
		})
		exitOnError(err)
		respond(def, func() {
			printOK("defined aggregate %s %s", def.Name, ui.RenderMuted(describeAggregate(def)))
		})
	},
}

var aggregateRemoveCmd = &cobra.Command{
	Use:   "remove <tree> <name|id>",
	Short: "Remove an aggregate and its computed values",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(ws.Engine.RemoveAggregate(rootCtx, args[0], args[1]))
		respond(map[string]string{"tree": args[0], "removed": args[1]}, func() {
			printOK("removed aggregate %s", args[1])
		})
	},
}

var aggregateListCmd = &cobra.Command{
	Use:   "list <tree>",
	Short: "List a tree's aggregates",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		defs, err := ws.Engine.Aggregates(args[0])
		exitOnError(err)
		respond(defs, func() {
			if len(defs) == 0 {
				debug.PrintNormal("%s\n", ui.RenderMuted("no aggregates"))
				return
			}
			for _, d := range defs {
				fmt.Printf("%s %s\n", ui.RenderAccent(d.Name), ui.RenderMuted(describeAggregate(d)))
			}
		})
	},
}

func init() {
	aggregateDefineCmd.Flags().String("node", "", "Card type the value is computed on (required)")
	aggregateDefineCmd.Flags().String("function", "", "count, sum, avg, min or max (required)")
	aggregateDefineCmd.Flags().String("source", "", "Numeric property folded by sum, avg, min and max")
	aggregateDefineCmd.Flags().String("scope", "all", "all, children or type:<card type>")
	_ = aggregateDefineCmd.MarkFlagRequired("node")
	_ = aggregateDefineCmd.MarkFlagRequired("function")

	aggregateCmd.AddCommand(aggregateDefineCmd, aggregateRemoveCmd, aggregateListCmd)
	rootCmd.AddCommand(aggregateCmd)
}
