package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}
	if cfg.Affect.DecayFactor != 0.95 {
		t.Errorf("DecayFactor = %v, want default 0.95", cfg.Affect.DecayFactor)
	}
	if cfg.Intent.ChatThreshold != 0.5 {
		t.Errorf("ChatThreshold = %v, want default 0.5", cfg.Intent.ChatThreshold)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sovereign.yaml")
	content := `
affect:
  decay_factor: 0.9
  cap: 100
dispatch:
  task_timeout: 60s
  interrupt_confidence: 0.8
nodes:
  reasoning:
    base_url: http://reasoner:8000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Affect.DecayFactor != 0.9 {
		t.Errorf("DecayFactor = %v", cfg.Affect.DecayFactor)
	}
	if cfg.Dispatch.TaskTimeout != "60s" {
		t.Errorf("TaskTimeout = %q", cfg.Dispatch.TaskTimeout)
	}
	if cfg.Nodes.Reasoning.BaseURL != "http://reasoner:8000" {
		t.Errorf("Reasoning URL = %q", cfg.Nodes.Reasoning.BaseURL)
	}
	// Unset fields keep defaults.
	if cfg.Nodes.Interactive.BaseURL != "http://localhost:9000" {
		t.Errorf("Interactive URL = %q, want default", cfg.Nodes.Interactive.BaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad decay":      "affect:\n  decay_factor: 1.5\n",
		"bad duration":   "dispatch:\n  task_timeout: soon\n",
		"bad threshold":  "intent:\n  chat_threshold: 2\n",
		"bad confidence": "dispatch:\n  interrupt_confidence: -1\n",
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load accepted invalid config", name)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOVEREIGN_REASONING_URL", "http://env-reasoner:9999")
	t.Setenv("SOVEREIGN_TELEMETRY_URL", "http://env-vitals:9108")
	t.Setenv("SOVEREIGN_DEBUG", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Nodes.Reasoning.BaseURL != "http://env-reasoner:9999" {
		t.Errorf("Reasoning URL = %q", cfg.Nodes.Reasoning.BaseURL)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint != "http://env-vitals:9108" {
		t.Error("Telemetry env override did not enable the collector")
	}
	if !cfg.Logging.Debug || cfg.Logging.Level != "debug" {
		t.Error("Debug env override not applied")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "sovereign.yaml")
	cfg := DefaultConfig()
	cfg.Dispatch.TaskTimeout = "90s"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load of saved config failed: %v", err)
	}
	if loaded.Dispatch.TaskTimeout != "90s" {
		t.Errorf("TaskTimeout = %q after round trip", loaded.Dispatch.TaskTimeout)
	}
}

func TestParseDuration(t *testing.T) {
	if got := ParseDuration("45s", time.Minute); got != 45*time.Second {
		t.Errorf("ParseDuration(45s) = %v", got)
	}
	if got := ParseDuration("", time.Minute); got != time.Minute {
		t.Errorf("Empty duration fallback = %v", got)
	}
	if got := ParseDuration("junk", time.Minute); got != time.Minute {
		t.Errorf("Invalid duration fallback = %v", got)
	}
}
