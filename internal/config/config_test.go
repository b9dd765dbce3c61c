package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[general]
projects_path = "/tmp/orchestrator-projects"
state_db = "/tmp/orchestrator-test.db"
log_level = "info"

[providers.anthropic-sonnet]
kind = "anthropic"
api_key = "sk-ant-test"
model = "claude-sonnet"

[providers.anthropic-opus]
kind = "anthropic"
api_key = "sk-ant-test"
model = "claude-opus"

[tiers]
fast = ["anthropic-sonnet"]
balanced = ["anthropic-sonnet"]
premium = ["anthropic-opus"]

[api]
bind = "127.0.0.1:8900"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.ProjectsPath != "/tmp/orchestrator-projects" {
		t.Errorf("ProjectsPath = %q", cfg.General.ProjectsPath)
	}
	if cfg.API.Bind != "127.0.0.1:8900" {
		t.Errorf("API.Bind = %q, want 127.0.0.1:8900", cfg.API.Bind)
	}
	if cfg.Tiers.Premium[0] != "anthropic-opus" {
		t.Errorf("Tiers.Premium = %v", cfg.Tiers.Premium)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.AgentLoopMaxIter != 10 {
		t.Errorf("AgentLoopMaxIter = %d, want 10", cfg.General.AgentLoopMaxIter)
	}
	if cfg.General.KoboldLoopMaxIter != 30 {
		t.Errorf("KoboldLoopMaxIter = %d, want 30", cfg.General.KoboldLoopMaxIter)
	}
	if cfg.General.StuckKoboldTimeout.Duration != 30*time.Minute {
		t.Errorf("StuckKoboldTimeout = %v, want 30m", cfg.General.StuckKoboldTimeout.Duration)
	}
	if cfg.General.RetryPolicy.MaxRetries != 3 {
		t.Errorf("RetryPolicy.MaxRetries = %d, want 3", cfg.General.RetryPolicy.MaxRetries)
	}
	if cfg.Periodic.DrakeWorkersPerProject != 4 {
		t.Errorf("DrakeWorkersPerProject = %d, want 4", cfg.Periodic.DrakeWorkersPerProject)
	}
	if !cfg.Verification.AutoCreateFixTasks {
		t.Error("expected AutoCreateFixTasks to default true")
	}
	if !cfg.Verification.SkipForImportedProjects {
		t.Error("expected SkipForImportedProjects to default true")
	}
}

func TestLoadMissingProjectsPath(t *testing.T) {
	cfg := `
[general]
state_db = "/tmp/orchestrator-test.db"
`
	path := writeTestConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing projects_path")
	}
}

func TestLoadProviderMissingKind(t *testing.T) {
	cfg := validConfig + `

[providers.broken]
model = "x"
`
	path := writeTestConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for provider missing kind")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"60s", 60 * time.Second},
		{"2m", 2 * time.Minute},
		{"1h", time.Hour},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		var d Duration
		if err := d.UnmarshalText([]byte(tt.input)); err != nil {
			t.Errorf("UnmarshalText(%q) error: %v", tt.input, err)
			continue
		}
		if d.Duration != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.input, d.Duration, tt.want)
		}
	}
}

func TestDurationUnmarshalInvalid(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{90 * time.Second}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var back Duration
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back.Duration != d.Duration {
		t.Errorf("round trip = %v, want %v", back.Duration, d.Duration)
	}
}

func TestIsPlaceholder(t *testing.T) {
	cases := map[string]bool{
		"":                       true,
		"   ":                    true,
		"${ANTHROPIC_API_KEY}":   true,
		"sk-ant-real-key-123":    false,
	}
	for in, want := range cases {
		if got := IsPlaceholder(in); got != want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	clone := cfg.Clone()
	clone.Tiers.Fast = append(clone.Tiers.Fast, "mutated")
	if len(cfg.Tiers.Fast) == len(clone.Tiers.Fast) {
		t.Fatal("mutating clone's Tiers.Fast leaked into original")
	}
}
