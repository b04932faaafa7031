package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from a workspace
// directory rather than through the viper singleton, e.g. when opening a
// workspace other than the one found from the working directory.
type LocalConfig struct {
	DB    string `yaml:"db"`
	Actor string `yaml:"actor"`
}

// LoadLocalConfig reads config.yaml from workspaceDir. It returns an empty
// LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(workspaceDir string) *LocalConfig {
	configPath := filepath.Join(workspaceDir, "config.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from workspaceDir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// DatabasePath resolves the database of a workspace: the db key of its
// config.yaml (relative paths are taken from the workspace root) or
// arbor.db inside the workspace directory.
func DatabasePath(workspaceDir string) string {
	db := LoadLocalConfig(workspaceDir).DB
	if db == "" {
		return filepath.Join(workspaceDir, "arbor.db")
	}
	if filepath.IsAbs(db) {
		return db
	}
	return filepath.Join(filepath.Dir(workspaceDir), db)
}
