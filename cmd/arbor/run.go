package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/aggregate"
	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/types"
	"github.com/arborhq/arbor/internal/ui"
)

var runCmd = &cobra.Command{
	Use:     "run [tree]",
	Short:   "Recompute aggregate values for pending trees",
	Long:    `Recompute aggregate values. Without a tree every tree with pending changes is processed.`,
	GroupID: "trees",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ref := ""
		if len(args) == 1 {
			ref = args[0]
		}
		summary, err := ws.Engine.RunOnce(rootCtx, ref)
		if summary == nil {
			exitOnError(err)
		}
		// Trees that failed are part of the summary; report them all
		// before exiting non-zero.
		respond(summary, func() { printRunSummary(summary) })
		if err != nil {
			closeWorkspace()
			if jsonOutput {
				outputJSONError(err, types.ErrorCode(err))
			}
			os.Exit(1)
		}
	},
}

func treeName(id string) string {
	if s, err := ws.Engine.Schema(id); err == nil {
		return s.Name
	}
	return id
}

func printRunSummary(summary *aggregate.RunSummary) {
	if summary == nil || len(summary.Trees) == 0 {
		debug.PrintNormal("%s nothing to recompute\n", ui.RenderInfoIcon())
		return
	}
	width := ui.TerminalWidth() - 2*len(ui.TreeIndent)
	for i, t := range summary.Trees {
		if i > 0 {
			debug.PrintlnNormal(ui.RenderSeparator())
		}
		name := treeName(t.TreeID)
		switch {
		case t.Err != "":
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFailIcon(), ui.RenderFail(name+": recompute failed"))
			fmt.Fprintf(os.Stderr, "%s\n", indent(ui.WrapText(t.Err, width)))
			continue
		case !t.Full && t.Nodes == 0 && t.Written == 0 && t.Cleared == 0:
			debug.PrintNormal("%s %s %s\n", ui.RenderSkipIcon(), name, ui.RenderMuted("(up to date)"))
			continue
		}
		printOK("%s: %d written, %d cleared %s", name, t.Written, t.Cleared,
			ui.RenderMuted(fmt.Sprintf("(%d nodes, %s)", t.Nodes, t.Duration.Round(time.Millisecond))))
		if t.Ignored > 0 {
			fmt.Printf("%s%s\n", ui.TreeIndent, ui.RenderWarn(fmt.Sprintf("%d non-numeric values ignored", t.Ignored)))
		}
		for _, e := range t.Errors {
			fmt.Printf("%s%s %s\n", ui.TreeIndent, ui.RenderWarnIcon(), e.Name)
			fmt.Printf("%s\n", indent(ui.WrapText(e.Reason, width)))
		}
	}
}

// indent prefixes every line of s with two tree indents.
func indent(s string) string {
	prefix := ui.TreeIndent + ui.TreeIndent
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
