package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time with -ldflags "-X main.Version=...".
	Version = "0.1.0"
	// Build is the commit the binary was built from.
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Print version information",
	GroupID: "setup",
	Run: func(cmd *cobra.Command, args []string) {
		respond(map[string]string{"version": Version, "build": Build, "go": runtime.Version()}, func() {
			fmt.Printf("arbor version %s (%s)\n", Version, Build)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
