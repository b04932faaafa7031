package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
	if got := ConfigFileUsed(); got != "" {
		t.Errorf("ConfigFileUsed() = %q, want none", got)
	}
}

func TestDefaults(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"json", false, func(k string) interface{} { return GetBool(k) }},
		{"db", "", func(k string) interface{} { return GetString(k) }},
		{"actor", "", func(k string) interface{} { return GetString(k) }},
		{"run.debounce", 2 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"run.max-elapsed", 30 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"run.parallelism", 4, func(k string) interface{} { return GetInt(k) }},
		{"telemetry.enabled", false, func(k string) interface{} { return GetBool(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	tests := []struct {
		envVar   string
		key      string
		value    string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"ARBOR_JSON", "json", "true", true, func(k string) interface{} { return GetBool(k) }},
		{"ARBOR_ACTOR", "actor", "testuser", "testuser", func(k string) interface{} { return GetString(k) }},
		{"ARBOR_DB", "db", "/tmp/test.db", "/tmp/test.db", func(k string) interface{} { return GetString(k) }},
		{"ARBOR_RUN_DEBOUNCE", "run.debounce", "10s", 10 * time.Second, func(k string) interface{} { return GetDuration(k) }},
		{"ARBOR_RUN_MAX_ELAPSED", "run.max-elapsed", "1m", time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"ARBOR_RUN_PARALLELISM", "run.parallelism", "8", 8, func(k string) interface{} { return GetInt(k) }},
	}

	for _, tt := range tests {
		t.Run(tt.envVar, func(t *testing.T) {
			t.Setenv(tt.envVar, tt.value)
			if err := Initialize(); err != nil {
				t.Fatalf("Initialize() returned error: %v", err)
			}
			got := tt.getter(tt.key)
			if got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestConfigFileDiscovery(t *testing.T) {
	tmpDir := t.TempDir()
	workspace := filepath.Join(tmpDir, WorkspaceDir)
	if err := os.MkdirAll(workspace, 0o750); err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	configContent := `
json: true
actor: configuser
run:
  debounce: 15s
  parallelism: 2
`
	if err := os.WriteFile(filepath.Join(workspace, "config.yaml"), []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatal(err)
	}

	// Discovery walks up from a nested directory.
	t.Chdir(nested)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	if got := GetBool("json"); !got {
		t.Errorf("GetBool(json) = %v, want true", got)
	}
	if got := GetString("actor"); got != "configuser" {
		t.Errorf("GetString(actor) = %q, want \"configuser\"", got)
	}
	if got := GetDuration("run.debounce"); got != 15*time.Second {
		t.Errorf("GetDuration(run.debounce) = %v, want 15s", got)
	}
	if got := GetInt("run.parallelism"); got != 2 {
		t.Errorf("GetInt(run.parallelism) = %d, want 2", got)
	}
	if ConfigFileUsed() == "" {
		t.Error("ConfigFileUsed() is empty")
	}

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("ARBOR_ACTOR", "envuser")
		if err := Initialize(); err != nil {
			t.Fatal(err)
		}
		if got := GetString("actor"); got != "envuser" {
			t.Errorf("GetString(actor) = %q, want \"envuser\"", got)
		}
	})
}

func TestSetAndAllSettings(t *testing.T) {
	if err := Initialize(); err != nil {
		t.Fatal(err)
	}
	Set("json", true)
	if !GetBool("json") {
		t.Error("Set(json) did not take effect")
	}
	all := AllSettings()
	if _, ok := all["json"]; !ok {
		t.Errorf("AllSettings() = %v, missing json", all)
	}
}

func TestNilViperBehavior(t *testing.T) {
	ResetForTesting()
	defer func() { _ = Initialize() }()

	if got := GetString("actor"); got != "" {
		t.Errorf("GetString = %q", got)
	}
	if GetBool("json") || GetInt("run.parallelism") != 0 || GetDuration("run.debounce") != 0 {
		t.Error("getters should return zero values before Initialize")
	}
	Set("json", true)
	if len(AllSettings()) != 0 {
		t.Error("AllSettings should be empty before Initialize")
	}
}
