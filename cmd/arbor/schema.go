package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/deffile"
	"github.com/arborhq/arbor/internal/types"
	"github.com/arborhq/arbor/internal/ui"
)

var schemaCmd = &cobra.Command{
	Use:     "schema",
	Short:   "Create, change and delete tree schemas",
	GroupID: "trees",
}

// parseLevels reads levels given as Type or Type=Property.
func parseLevels(args []string) ([]types.Level, error) {
	levels := make([]types.Level, 0, len(args))
	for _, a := range args {
		cardType, prop, _ := strings.Cut(a, "=")
		cardType = strings.TrimSpace(cardType)
		if cardType == "" {
			return nil, types.Invalid("levels", "empty card type in %q", a)
		}
		levels = append(levels, types.Level{CardType: cardType, RelationshipProperty: strings.TrimSpace(prop)})
	}
	return levels, nil
}

// levelIndex resolves a level given as a card type or a zero-based index.
func levelIndex(s *types.TreeSchema, ref string) (int, error) {
	if i := s.LevelOf(ref); i >= 0 {
		return i, nil
	}
	if i, err := strconv.Atoi(ref); err == nil && i >= 0 && i < len(s.Levels) {
		return i, nil
	}
	return -1, fmt.Errorf("level %q of tree %s: %w", ref, s.Name, types.ErrNotFound)
}

func printSchema(s *types.TreeSchema) {
	fmt.Printf("%s %s\n", ui.RenderCategory(s.Name), ui.RenderMuted(fmt.Sprintf("(id %s, version %d)", s.ID, s.Version)))
	for i, l := range s.Levels {
		fmt.Printf("%s%d. %s %s\n", ui.TreeIndent, i, l.CardType, ui.RenderMuted("["+l.RelationshipProperty+"]"))
	}
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create <name> <Type[=Property]>...",
	Short: "Create a tree with at least two levels, root first",
	Example: `  arbor schema create Planning Release Iteration Story
  arbor schema create Planning Release=Release Iteration=Sprint Story`,
	Args: cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		levels, err := parseLevels(args[1:])
		exitOnError(err)
		s, err := ws.Engine.CreateSchema(rootCtx, args[0], levels)
		exitOnError(err)
		respond(s, func() {
			printOK("created tree %s", s.Name)
			printSchema(s)
		})
	},
}

var schemaApplyCmd = &cobra.Command{
	Use:   "apply -f <file>",
	Short: "Create or update a tree from a YAML or TOML definition",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			FatalErrorWithHint("no definition file", "Pass one with -f tree.yaml")
		}
		doc, err := deffile.ParseFile(file)
		exitOnError(err)
		res, err := ws.ApplyDocument(rootCtx, doc, confirmChange)
		exitOnError(err)
		respond(res, func() {
			switch {
			case res.Created:
				printOK("created tree %s", res.Schema.Name)
			case res.Reconfigured:
				printOK("reconfigured tree %s", res.Schema.Name)
			default:
				printOK("tree %s is up to date", res.Schema.Name)
			}
			printSchema(res.Schema)
			for _, n := range res.AggregatesAdded {
				fmt.Printf("  + aggregate %s\n", n)
			}
			for _, n := range res.AggregatesUpdated {
				fmt.Printf("  ~ aggregate %s\n", n)
			}
			for _, n := range res.AggregatesRemoved {
				fmt.Printf("  - aggregate %s\n", n)
			}
		})
	},
}

var schemaReconfigureCmd = &cobra.Command{
	Use:   "reconfigure <tree> <Type[=Property]>...",
	Short: "Replace a tree's levels (append new levels or drop trailing ones)",
	Args:  cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		levels, err := parseLevels(args[1:])
		exitOnError(err)
		change, err := ws.Engine.PlanReconfigure(rootCtx, args[0], levels)
		exitOnError(err)
		s, err := commitChange(change)
		exitOnError(err)
		respond(s, func() {
			printOK("reconfigured tree %s", s.Name)
			printSchema(s)
		})
	},
}

var schemaRemoveLevelCmd = &cobra.Command{
	Use:   "remove-level <tree> <type|index>",
	Short: "Remove one level; its members leave the tree and their children move up",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cur, err := ws.Engine.Schema(args[0])
		exitOnError(err)
		idx, err := levelIndex(cur, args[1])
		exitOnError(err)
		change, err := ws.Engine.PlanRemoveLevel(rootCtx, cur.ID, idx)
		exitOnError(err)
		s, err := commitChange(change)
		exitOnError(err)
		respond(s, func() {
			printOK("removed level %s from tree %s", cur.Levels[idx].CardType, s.Name)
			printSchema(s)
		})
	},
}

var schemaDeleteCmd = &cobra.Command{
	Use:   "delete <tree>",
	Short: "Delete a tree with its relationship properties and aggregates",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		change, err := ws.Engine.PlanDeleteSchema(rootCtx, args[0])
		exitOnError(err)
		name := change.TreeName()
		_, err = commitChange(change)
		exitOnError(err)
		respond(map[string]string{"deleted": name}, func() {
			printOK("deleted tree %s", name)
		})
	},
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trees",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		schemas := ws.Engine.Schemas()
		respond(schemas, func() {
			if len(schemas) == 0 {
				debug.PrintNormal("%s\n", ui.RenderMuted("no trees yet"))
				return
			}
			for _, s := range schemas {
				fmt.Printf("%s  %s\n", ui.RenderAccent(s.Name), strings.Join(s.Types(), " > "))
			}
		})
	},
}

var schemaShowCmd = &cobra.Command{
	Use:   "show <tree>",
	Short: "Show a tree's levels and aggregates",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := ws.Engine.Schema(args[0])
		exitOnError(err)
		defs, err := ws.Engine.Aggregates(s.ID)
		exitOnError(err)

		format, _ := cmd.Flags().GetString("format")
		if format != "" {
			data, err := deffile.FromSchema(s, defs).Encode(deffile.Format(format))
			exitOnError(err)
			_, _ = os.Stdout.Write(data)
			return
		}
		respond(map[string]interface{}{"schema": s, "aggregates": defs}, func() {
			printSchema(s)
			for _, d := range defs {
				fmt.Printf("%s%s %s\n", ui.TreeIndent, ui.RenderAccent(d.Name), ui.RenderMuted(describeAggregate(d)))
			}
		})
	},
}

func init() {
	schemaApplyCmd.Flags().StringP("file", "f", "", "Definition file (.yaml, .yml, .json or .toml)")
	schemaShowCmd.Flags().String("format", "", "Print the tree as a definition document (yaml or toml)")

	schemaCmd.AddCommand(schemaCreateCmd, schemaApplyCmd, schemaReconfigureCmd, schemaRemoveLevelCmd,
		schemaDeleteCmd, schemaListCmd, schemaShowCmd)
	rootCmd.AddCommand(schemaCmd)
}
