package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/storage/sqlite"
)

const configTemplate = `# arbor configuration
#
# Settings can also be given as ARBOR_* environment variables, e.g.
# ARBOR_RUN_DEBOUNCE=5s.

# db: .arbor/arbor.db
# json: false
# actor: ""

# Background aggregate runs (arbor watch)
# run.debounce: 2s
# run.max-elapsed: 30s
# run.parallelism: 4

# telemetry.enabled: false
`

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create an arbor workspace in the current directory",
	GroupID: "setup",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			FatalError("%v", err)
		}
		dir := filepath.Join(cwd, config.WorkspaceDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			FatalError("failed to create %s: %v", dir, err)
		}

		configPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
				WarnError("failed to create config.yaml: %v", err)
			}
		}

		path := dbPath
		if path == "" {
			path = config.DatabasePath(dir)
		}
		store, err := sqlite.New(rootCtx, path)
		if err != nil {
			FatalError("failed to create database: %v", err)
		}
		defer func() { _ = store.Close() }()
		if err := store.SetMetadata(rootCtx, "arbor_version", Version); err != nil {
			WarnError("failed to record version: %v", err)
		}

		respond(map[string]string{"workspace": dir, "db": store.Path()}, func() {
			printOK("initialized arbor workspace in %s", dir)
			fmt.Printf("  database: %s\n", store.Path())
		})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
