package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arborhq/arbor/internal/debug"
)

// outputJSON outputs data as pretty-printed JSON to stdout.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputJSONError outputs an error as JSON to stderr and exits with code 1.
func outputJSONError(err error, code string) {
	errObj := map[string]string{"error": err.Error()}
	if code != "" {
		errObj["code"] = code
	}
	encoder := json.NewEncoder(os.Stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj) // Best effort: the exit code still reports the failure
	os.Exit(1)
}

// respond prints v as JSON, or calls human for text output.
func respond(v interface{}, human func()) {
	if jsonOutput {
		outputJSON(v)
		return
	}
	human()
}

// printOK prints a one-line success message unless --quiet is set.
func printOK(format string, args ...interface{}) {
	debug.PrintNormal("%s "+format+"\n", append([]interface{}{okIcon()}, args...)...)
}
