package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sovereign configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Data directory for databases, logs and persisted state
	DataDir string `yaml:"data_dir"`

	// Inference node endpoints
	Nodes NodesConfig `yaml:"nodes"`

	// Affect engine tuning
	Affect AffectConfig `yaml:"affect"`

	// Memory stack configuration
	Memory MemoryConfig `yaml:"memory"`

	// Intent classification
	Intent IntentConfig `yaml:"intent"`

	// Dispatcher timing and limits
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Hardware telemetry collaborator
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Idle reflection and periodic jobs
	Reflection ReflectionConfig `yaml:"reflection"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// NodesConfig configures the two inference node adapters.
type NodesConfig struct {
	Interactive InteractiveNodeConfig `yaml:"interactive"`
	Reasoning   ReasoningNodeConfig   `yaml:"reasoning"`
}

// InteractiveNodeConfig configures the low-latency conversational node.
type InteractiveNodeConfig struct {
	BaseURL          string `yaml:"base_url"`
	Timeout          string `yaml:"timeout"`           // per-push request timeout
	ReconnectBackoff string `yaml:"reconnect_backoff"` // stream reconnect backoff
}

// ReasoningNodeConfig configures the heavyweight tool-using node.
type ReasoningNodeConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"` // per-submit request timeout
}

// AffectConfig tunes the affect engine.
type AffectConfig struct {
	// DecayFactor multiplies every intensity once per turn (0 < f <= 1).
	DecayFactor float64 `yaml:"decay_factor"`

	// Cap is the upper clamp for any emotion intensity.
	Cap float64 `yaml:"cap"`

	// RenderTopN limits how many emotions appear in the rendered fragment.
	RenderTopN int `yaml:"render_top_n"`

	// RenderMinIntensity hides emotions below this intensity from rendering.
	RenderMinIntensity float64 `yaml:"render_min_intensity"`

	// StatePath persists the affect vector across restarts. Empty disables.
	StatePath string `yaml:"state_path"`
}

// MemoryConfig configures the three memory tiers.
type MemoryConfig struct {
	// DatabasePath is the sqlite file backing episodic and fact storage.
	DatabasePath string `yaml:"database_path"`

	// WindowTurns bounds the working turn window (oldest evicted first).
	WindowTurns int `yaml:"window_turns"`

	// WindowTokenBudget bounds the window by estimated tokens as well.
	WindowTokenBudget int `yaml:"window_token_budget"`

	// RecallTopK is the number of episodic records retrieved per query.
	RecallTopK int `yaml:"recall_top_k"`

	// WriteRetries bounds episodic write retries before the record is dropped.
	WriteRetries int `yaml:"write_retries"`

	// WriteBackoff is the base backoff between episodic write retries.
	WriteBackoff string `yaml:"write_backoff"`

	// PersonaPath is the free-text persona core injected into every context.
	PersonaPath string `yaml:"persona_path"`
}

// IntentConfig configures the intent classifier.
type IntentConfig struct {
	// ChatThreshold routes to chat when action confidence falls below it.
	ChatThreshold float64 `yaml:"chat_threshold"`
}

// DispatchConfig configures the dispatcher core.
type DispatchConfig struct {
	// TaskTimeout marks a reasoning task failed if no terminal status arrives.
	TaskTimeout string `yaml:"task_timeout"`

	// IdleTimeout evicts the session after this much inactivity.
	IdleTimeout string `yaml:"idle_timeout"`

	// InterruptConfidence is the minimum action confidence that interrupts the
	// interactive node mid-utterance while a task is in flight.
	InterruptConfidence float64 `yaml:"interrupt_confidence"`
}

// EmbeddingConfig configures the embedding engine backends.
type EmbeddingConfig struct {
	// Provider: "ollama", "genai" or "none"
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// TelemetryConfig configures the hardware telemetry poller.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Interval string `yaml:"interval"`

	// Pressure thresholds that trigger affect impulses
	GPUTempHotC    float64 `yaml:"gpu_temp_hot_c"`
	CPULoadHighPct float64 `yaml:"cpu_load_high_pct"`
	RAMLowMB       float64 `yaml:"ram_low_mb"`
}

// ReflectionConfig configures idle reflection and scheduled jobs.
type ReflectionConfig struct {
	// IdleThreshold is how long without user input before reflection fires.
	IdleThreshold string `yaml:"idle_threshold"`

	// TickSpec is the cron spec for the reflection check.
	TickSpec string `yaml:"tick_spec"`

	// FactReinjectSpec is the cron spec for periodic fact-sheet re-injection.
	FactReinjectSpec string `yaml:"fact_reinject_spec"`

	// ThoughtsPath is where internal thoughts are appended. Empty disables.
	ThoughtsPath string `yaml:"thoughts_path"`
}

// LoggingConfig configures debug logging.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sovereign",
		Version: "0.3.0",
		DataDir: "data",

		Nodes: NodesConfig{
			Interactive: InteractiveNodeConfig{
				BaseURL:          "http://localhost:9000",
				Timeout:          "10s",
				ReconnectBackoff: "2s",
			},
			Reasoning: ReasoningNodeConfig{
				BaseURL: "http://localhost:8283",
				Timeout: "180s",
			},
		},

		Affect: AffectConfig{
			DecayFactor:        0.95,
			Cap:                100.0,
			RenderTopN:         3,
			RenderMinIntensity: 5.0,
			StatePath:          "data/affect_state.json",
		},

		Memory: MemoryConfig{
			DatabasePath:      "data/sovereign.db",
			WindowTurns:       16,
			WindowTokenBudget: 8000,
			RecallTopK:        3,
			WriteRetries:      3,
			WriteBackoff:      "250ms",
			PersonaPath:       "data/persona_core.txt",
		},

		Intent: IntentConfig{
			ChatThreshold: 0.5,
		},

		Dispatch: DispatchConfig{
			TaskTimeout:         "120s",
			IdleTimeout:         "30m",
			InterruptConfidence: 0.75,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9108/vitals",
			Interval:       "30s",
			GPUTempHotC:    80.0,
			CPULoadHighPct: 90.0,
			RAMLowMB:       512.0,
		},

		Reflection: ReflectionConfig{
			IdleThreshold:    "5m",
			TickSpec:         "@every 1m",
			FactReinjectSpec: "@every 10m",
			ThoughtsPath:     "data/thoughts.log",
		},

		Logging: LoggingConfig{
			Debug: false,
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// anything unset. A missing file is not an error: defaults plus environment
// overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
// Only settings that make sense to override per-deployment are exposed.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOVEREIGN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SOVEREIGN_INTERACTIVE_URL"); v != "" {
		c.Nodes.Interactive.BaseURL = v
	}
	if v := os.Getenv("SOVEREIGN_REASONING_URL"); v != "" {
		c.Nodes.Reasoning.BaseURL = v
	}
	if v := os.Getenv("SOVEREIGN_TELEMETRY_URL"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("SOVEREIGN_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("SOVEREIGN_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
}

// Validate checks invariants that would otherwise surface as subtle runtime
// misbehavior.
func (c *Config) Validate() error {
	if c.Affect.DecayFactor <= 0 || c.Affect.DecayFactor > 1 {
		return fmt.Errorf("affect.decay_factor must be in (0, 1], got %v", c.Affect.DecayFactor)
	}
	if c.Affect.Cap <= 0 {
		return fmt.Errorf("affect.cap must be positive, got %v", c.Affect.Cap)
	}
	if c.Memory.WindowTurns <= 0 {
		return fmt.Errorf("memory.window_turns must be positive, got %d", c.Memory.WindowTurns)
	}
	if c.Intent.ChatThreshold < 0 || c.Intent.ChatThreshold > 1 {
		return fmt.Errorf("intent.chat_threshold must be in [0, 1], got %v", c.Intent.ChatThreshold)
	}
	if c.Dispatch.InterruptConfidence < 0 || c.Dispatch.InterruptConfidence > 1 {
		return fmt.Errorf("dispatch.interrupt_confidence must be in [0, 1], got %v", c.Dispatch.InterruptConfidence)
	}
	for name, s := range map[string]string{
		"nodes.interactive.timeout":           c.Nodes.Interactive.Timeout,
		"nodes.interactive.reconnect_backoff": c.Nodes.Interactive.ReconnectBackoff,
		"nodes.reasoning.timeout":             c.Nodes.Reasoning.Timeout,
		"memory.write_backoff":                c.Memory.WriteBackoff,
		"dispatch.task_timeout":               c.Dispatch.TaskTimeout,
		"dispatch.idle_timeout":               c.Dispatch.IdleTimeout,
		"telemetry.interval":                  c.Telemetry.Interval,
		"reflection.idle_threshold":           c.Reflection.IdleThreshold,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, s)
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ParseDuration parses a duration string from config, falling back to def on
// empty or invalid values. Validate catches invalid values at load time, so
// the fallback only matters for hand-built configs in tests.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
