// Package config loads arbor settings from .arbor/config.yaml, the user
// config directory and ARBOR_* environment variables through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkspaceDir is the per-project directory holding the database and
// config.yaml.
const WorkspaceDir = ".arbor"

var v *viper.Viper

// Initialize sets up the viper singleton. The project config.yaml is found
// by walking up from the working directory; the user config at
// ~/.config/arbor/config.yaml is used when no project config exists.
// Environment variables override file values: ARBOR_RUN_DEBOUNCE sets
// run.debounce.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if path, ok := findProjectConfig(); ok {
		v.SetConfigFile(path)
		configFileSet = true
	} else if dir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(dir, "arbor", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			configFileSet = true
		}
	}

	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "")
	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("run.debounce", 2*time.Second)
	v.SetDefault("run.max-elapsed", 30*time.Second)
	v.SetDefault("run.parallelism", 4)
	v.SetDefault("telemetry.enabled", false)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func findProjectConfig() (string, bool) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, WorkspaceDir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		if dir == filepath.Dir(dir) {
			return "", false
		}
	}
}

// ResetForTesting drops the singleton so the next Initialize starts clean.
func ResetForTesting() {
	v = nil
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a value for the rest of the process, e.g. from a flag.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns every resolved key.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
