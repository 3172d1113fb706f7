// Package config loads and validates omnidev configuration from
// .omnidev/config.yaml. Missing required startup configuration is fatal:
// Load returns an error and callers are expected to abort initialization.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all omnidev configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace root the assistant observes
	Workspace string `yaml:"workspace"`

	Analysis AnalysisConfig `yaml:"analysis"`
	Voice    VoiceConfig    `yaml:"voice"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AnalysisConfig configures the continuous analysis pipeline.
type AnalysisConfig struct {
	Enabled          bool     `yaml:"enabled"`
	IntervalSeconds  float64  `yaml:"interval_seconds"`  // Per-file re-analysis rate limit
	CooldownSeconds  float64  `yaml:"cooldown_seconds"`  // Per-file feedback cooldown
	QueueSize        int      `yaml:"queue_size"`        // Bounded work queue capacity
	GlobalPerSecond  float64  `yaml:"global_per_second"` // Global analysis throughput cap
	WatchExtensions  []string `yaml:"watch_extensions"`
	DebounceMillis   int      `yaml:"debounce_millis"` // Watcher settle window
	FeedbackEnabled  bool     `yaml:"feedback_enabled"`
}

// VoiceConfig configures the voice interaction core.
type VoiceConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // Recognitions below this are dropped
	Volume              float64 `yaml:"volume"`               // 0.0 - 1.0
	Rate                float64 `yaml:"rate"`                 // Speech rate multiplier
}

// LLMConfig configures the language-model collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// MemoryConfig configures session persistence.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Name:    "omnidev",
		Version: "0.3.0",
		Analysis: AnalysisConfig{
			Enabled:         true,
			IntervalSeconds: 5,
			CooldownSeconds: 30,
			QueueSize:       256,
			GlobalPerSecond: 4,
			WatchExtensions: []string{".go", ".py", ".js", ".ts", ".rs", ".java"},
			DebounceMillis:  500,
			FeedbackEnabled: true,
		},
		Voice: VoiceConfig{
			Enabled:             false,
			ConfidenceThreshold: 0.5,
			Volume:              0.8,
			Rate:                1.0,
		},
		LLM: LLMConfig{
			Provider: "mock",
			Model:    "gemini-2.5-flash",
			Timeout:  "30s",
		},
		Memory: MemoryConfig{
			DatabasePath: filepath.Join(".omnidev", "sessions.db"),
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads .omnidev/config.yaml under the given workspace, applies it over
// the defaults, applies environment overrides, and validates the result.
// A missing config file is not an error; the defaults apply.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	cfg.Workspace = workspace

	path := filepath.Join(workspace, ".omnidev", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps well-known environment variables into the config.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if model := os.Getenv("OMNIDEV_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if db := os.Getenv("OMNIDEV_DB"); db != "" {
		cfg.Memory.DatabasePath = db
	}
}

// Validate checks required startup configuration. Failures here are fatal.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("config: workspace is required")
	}
	if c.Analysis.IntervalSeconds <= 0 {
		return fmt.Errorf("config: analysis.interval_seconds must be positive")
	}
	if c.Analysis.CooldownSeconds <= 0 {
		return fmt.Errorf("config: analysis.cooldown_seconds must be positive")
	}
	if c.Analysis.QueueSize <= 0 {
		return fmt.Errorf("config: analysis.queue_size must be positive")
	}
	if c.Voice.ConfidenceThreshold < 0 || c.Voice.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: voice.confidence_threshold must be in [0,1]")
	}
	if c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm.api_key is required for provider gemini (set GEMINI_API_KEY)")
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("config: llm.timeout: %w", err)
	}
	return nil
}

// AnalysisInterval returns the per-file rate limit as a duration.
func (c *Config) AnalysisInterval() time.Duration {
	return time.Duration(c.Analysis.IntervalSeconds * float64(time.Second))
}

// FeedbackCooldown returns the per-file feedback cooldown as a duration.
func (c *Config) FeedbackCooldown() time.Duration {
	return time.Duration(c.Analysis.CooldownSeconds * float64(time.Second))
}

// WatchDebounce returns the watcher settle window as a duration.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Analysis.DebounceMillis) * time.Millisecond
}

// LLMTimeout parses the configured LLM timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(c.LLM.Timeout)
}
