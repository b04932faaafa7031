package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor"
	"github.com/arborhq/arbor/internal/aggregate"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/debug"
	"github.com/arborhq/arbor/internal/telemetry"
)

var (
	dbPath      string
	actor       string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	yesFlag     bool

	ws *arbor.Workspace

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// noDbCommands do not open the workspace database.
var noDbCommands = map[string]bool{
	"init":       true,
	"version":    true,
	"help":       true,
	"completion": true,
	"config":     true,
}

// isNoDbCommand reports whether cmd runs without a database. Subcommands of
// config share names with other commands, so parents are checked too.
func isNoDbCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if noDbCommands[c.Name()] {
			return true
		}
	}
	return false
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .arbor/arbor.db)")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor name recorded in the event log (default: $ARBOR_ACTOR, $USER)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Confirm destructive schema changes without prompting")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "cards", Title: "Cards:"})
	rootCmd.AddGroup(&cobra.Group{ID: "trees", Title: "Trees & Aggregates:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "arbor - card trees with computed aggregates",
	Long: `Organize cards into typed trees (Release > Iteration > Story) and keep
relationship and aggregate properties in sync with tree membership.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("arbor version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()
		applyViperOverrides(cmd)

		if err := telemetry.Init(rootCtx, "arbor", Version, config.GetBool("telemetry.enabled")); err != nil {
			WarnError("telemetry disabled: %v", err)
		}

		if isNoDbCommand(cmd) {
			return
		}
		openWorkspace()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeWorkspace()
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyVerbosityFlags propagates --verbose and --quiet to the debug package.
func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

// applyViperOverrides fills flags that were not set on the command line
// from config.yaml and ARBOR_* variables. Flags win over both.
func applyViperOverrides(cmd *cobra.Command) {
	if !cmd.Flags().Changed("json") {
		jsonOutput = config.GetBool("json")
	}
	if !cmd.Flags().Changed("db") && dbPath == "" {
		dbPath = config.GetString("db")
	}
	if !cmd.Flags().Changed("actor") && actor == "" {
		actor = config.GetString("actor")
	}
	if actor == "" {
		actor = os.Getenv("USER")
	}
	if actor != "" && os.Getenv("ARBOR_ACTOR") == "" {
		// The event log reads the actor from the environment.
		_ = os.Setenv("ARBOR_ACTOR", actor)
	}
}

func openWorkspace() {
	path := dbPath
	if path == "" {
		path = arbor.FindDatabasePath()
	}
	if path == "" {
		FatalErrorWithHint("no arbor workspace found", "Run 'arbor init' to create one, or pass --db")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && dbPath == "" {
		FatalErrorWithHint(fmt.Sprintf("database %s does not exist", path), "Run 'arbor init' first")
	}

	opts := arbor.Options{
		Aggregate: aggregate.Options{
			Parallelism:     config.GetInt("run.parallelism"),
			MaxElapsed:      config.GetDuration("run.max-elapsed"),
			InitialInterval: aggregate.DefaultOptions().InitialInterval,
		},
		EventLog: true,
	}
	var err error
	ws, err = arbor.Open(rootCtx, path, opts)
	if err != nil {
		FatalError("failed to open database %s: %v", path, err)
	}
	debug.Logf("opened %s as %s\n", path, actor)
	checkWorkspaceVersion()
}

// versionedStore is implemented by stores that keep workspace metadata.
type versionedStore interface {
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// checkWorkspaceVersion records the running version in the workspace,
// noting when the database was last written by a different one.
func checkWorkspaceVersion() {
	store, ok := ws.Store.(versionedStore)
	if !ok {
		return
	}
	recorded, err := store.GetMetadata(rootCtx, "arbor_version")
	if err != nil {
		debug.Logf("read workspace version: %v\n", err)
		return
	}
	if recorded == Version {
		return
	}
	if recorded != "" {
		debug.Logf("workspace last used by arbor %s, now %s\n", recorded, Version)
	}
	if err := store.SetMetadata(rootCtx, "arbor_version", Version); err != nil {
		WarnError("failed to record version: %v", err)
	}
}

func closeWorkspace() {
	if ws != nil {
		if err := ws.Close(); err != nil {
			WarnError("failed to close database: %v", err)
		}
		ws = nil
	}
	if rootCtx != nil {
		telemetry.Shutdown(context.Background())
	}
	if rootCancel != nil {
		rootCancel()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
