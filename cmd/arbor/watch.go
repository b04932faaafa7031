package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/deffile"
	"github.com/arborhq/arbor/internal/scheduler"
)

const fileDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompute aggregates in the background as changes arrive",
	Long: `Keep aggregate values current. Pending trees are recomputed after a quiet
period of run.debounce. With -f the definition file is applied on start and
again whenever it changes.`,
	GroupID: "trees",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")

		sched := scheduler.New(ws.Engine, ws.Engine.Dirty(), config.GetDuration("run.debounce"), func(r scheduler.Result) {
			if r.Err != nil {
				WarnError("%s: %v", treeName(r.TreeID), r.Err)
				return
			}
			if jsonOutput {
				outputJSON(r.Summary)
				return
			}
			printRunSummary(r.Summary)
		})
		sched.Start(rootCtx)
		defer sched.Stop()

		// Work left over from earlier invocations.
		for _, id := range ws.Engine.Dirty().PendingTrees() {
			sched.Trigger(id)
		}

		if file == "" {
			if !debug.IsQuiet() {
				fmt.Fprintf(os.Stderr, "Watching for changes... (Press Ctrl+C to exit)\n")
			}
			<-rootCtx.Done()
			if !debug.IsQuiet() {
				fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			}
			return
		}
		exitOnError(watchDefinition(file))
	},
}

// applyDefinition parses and applies the file, reporting rather than
// exiting on failure so watching can continue.
func applyDefinition(path string) {
	doc, err := deffile.ParseFile(path)
	if err != nil {
		WarnError("%v", err)
		return
	}
	res, err := ws.ApplyDocument(rootCtx, doc, confirmChange)
	if err != nil {
		WarnError("apply %s: %v", path, err)
		return
	}
	switch {
	case res.Created:
		printOK("created tree %s", res.Schema.Name)
	case res.Reconfigured:
		printOK("reconfigured tree %s", res.Schema.Name)
	case len(res.AggregatesAdded)+len(res.AggregatesUpdated)+len(res.AggregatesRemoved) > 0:
		printOK("updated aggregates of %s", res.Schema.Name)
	}
}

func watchDefinition(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	applyDefinition(abs)
	fmt.Fprintf(os.Stderr, "\nWatching %s for changes... (Press Ctrl+C to exit)\n", path)

	reload := scheduler.NewDebouncer(fileDebounce, applyDefinition)
	defer reload.CancelAndWait()

	for {
		select {
		case <-rootCtx.Done():
			fmt.Fprintf(os.Stderr, "\nStopped watching.\n")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == abs && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				reload.Trigger(abs)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			WarnError("watcher: %v", err)
		}
	}
}

func init() {
	watchCmd.Flags().StringP("file", "f", "", "Definition file to apply and watch")
	rootCmd.AddCommand(watchCmd)
}
