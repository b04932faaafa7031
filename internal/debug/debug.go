// Package debug carries arbor's diagnostic output: stderr tracing gated by
// ARBOR_DEBUG or --verbose, quiet-mode aware printing, and an append-only
// event log kept next to the workspace database.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WorkspaceDir is the directory that marks an arbor workspace.
const WorkspaceDir = ".arbor"

var (
	enabled     = os.Getenv("ARBOR_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func Printf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Printf(format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}

// LogEvent appends an event to .arbor/events.log.
// Format: TIMESTAMP|EVENT_CODE|TREE_ID|CARD_ID|ACTOR|DETAILS
func LogEvent(eventCode, treeID, cardID, details string) {
	projectRoot, err := FindWorkspaceRoot()
	if err != nil {
		return
	}
	logPath := filepath.Join(projectRoot, WorkspaceDir, "events.log")

	if treeID == "" {
		treeID = "none"
	}
	if cardID == "" {
		cardID = "none"
	}
	actor := os.Getenv("ARBOR_ACTOR")
	if actor == "" {
		actor = os.Getenv("USER")
		if actor == "" {
			actor = "unknown"
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s|%s\n",
		timestamp, eventCode, treeID, cardID, actor, details)

	logMutex.Lock()
	defer logMutex.Unlock()

	_ = os.MkdirAll(filepath.Dir(logPath), 0755)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Logging must never interrupt a mutation.
		return
	}
	defer file.Close()
	_, _ = file.WriteString(entry)
}

// FindWorkspaceRoot walks up from the working directory to the first
// directory containing .arbor.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, WorkspaceDir)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in an arbor workspace")
		}
		dir = parent
	}
}
