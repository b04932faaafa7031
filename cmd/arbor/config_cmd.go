package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/arborhq/arbor/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Read and change workspace configuration",
	GroupID: "setup",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !config.IsKnownKey(args[0]) {
			FatalError("unknown config key %q", args[0])
		}
		value := config.GetYamlConfig(args[0])
		respond(map[string]string{"key": args[0], "value": value}, func() {
			fmt.Println(value)
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a value to .arbor/config.yaml",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.SetYamlConfig(args[0], args[1]); err != nil {
			FatalErrorWithHint(err.Error(), "Run 'arbor config list' to see the known keys")
		}
		respond(map[string]string{"key": args[0], "value": args[1]}, func() {
			printOK("set %s = %s", args[0], args[1])
		})
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings := make(map[string]interface{})
		for key := range config.KnownKeys {
			settings[key] = config.GetYamlConfig(key)
		}
		respond(settings, func() {
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if used := config.ConfigFileUsed(); used != "" {
				fmt.Printf("# %s\n", used)
			}
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, settings[k])
			}
		})
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
