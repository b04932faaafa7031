package main

import (
	"fmt"
	"os"

	"github.com/arborhq/arbor/internal/types"
)

// FatalError writes an error message to stderr and exits with code 1.
// Use this for fatal errors that prevent the command from completing.
func FatalError(format string, args ...interface{}) {
	closeWorkspace()
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
//
// Example:
//
//	FatalErrorWithHint("no arbor workspace found", "Run 'arbor init' to create one")
func FatalErrorWithHint(message, hint string) {
	closeWorkspace()
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(1)
}

// WarnError writes a warning message to stderr and returns.
// Use this for optional operations that enhance functionality but aren't required.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// exitOnError reports an engine error and exits. In JSON mode the error is
// written with its machine-readable code.
func exitOnError(err error) {
	if err == nil {
		return
	}
	if jsonOutput {
		closeWorkspace()
		outputJSONError(err, types.ErrorCode(err))
	}
	FatalError("%v", err)
}
