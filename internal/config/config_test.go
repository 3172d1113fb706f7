package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidOnceRooted(t *testing.T) {
	cfg := Default()
	cfg.Workspace = t.TempDir()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	ws := t.TempDir()
	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, ws, cfg.Workspace)
	assert.True(t, cfg.Analysis.Enabled)
	assert.Equal(t, Default().Analysis.QueueSize, cfg.Analysis.QueueSize)
}

func TestLoadReadsOverridesFromYAML(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".omnidev")
	require.NoError(t, os.MkdirAll(dir, 0755))

	body := `
analysis:
  interval_seconds: 10
  cooldown_seconds: 45
  queue_size: 8
  watch_extensions: [".go"]
voice:
  enabled: true
  confidence_threshold: 0.8
llm:
  provider: mock
  timeout: 45s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.AnalysisInterval())
	assert.Equal(t, 45*time.Second, cfg.FeedbackCooldown())
	assert.Equal(t, 8, cfg.Analysis.QueueSize)
	assert.Equal(t, []string{".go"}, cfg.Analysis.WatchExtensions)
	assert.True(t, cfg.Voice.Enabled)
	assert.InDelta(t, 0.8, cfg.Voice.ConfidenceThreshold, 1e-9)

	timeout, err := cfg.LLMTimeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, timeout)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".omnidev")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("analysis: ["), 0644))

	_, err := Load(ws)
	assert.Error(t, err, "a present but unreadable config must fail loudly, not fall back")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty workspace", func(c *Config) { c.Workspace = "" }},
		{"zero interval", func(c *Config) { c.Analysis.IntervalSeconds = 0 }},
		{"zero cooldown", func(c *Config) { c.Analysis.CooldownSeconds = 0 }},
		{"zero queue", func(c *Config) { c.Analysis.QueueSize = 0 }},
		{"confidence above one", func(c *Config) { c.Voice.ConfidenceThreshold = 1.5 }},
		{"gemini without key", func(c *Config) { c.LLM.Provider = "gemini"; c.LLM.APIKey = "" }},
		{"bad timeout", func(c *Config) { c.LLM.Timeout = "soon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Workspace = t.TempDir()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k-123")
	t.Setenv("OMNIDEV_MODEL", "gemini-2.5-pro")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "k-123", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
}
