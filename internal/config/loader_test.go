package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBPILOT_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, 5*time.Minute, cfg.Timeout)
	require.Equal(t, 50, cfg.MaxIterations)
	require.InDelta(t, 0.6, cfg.VerifyThreshold, 1e-9)
	require.Equal(t, time.Minute, cfg.StuckThreshold)
	require.InDelta(t, 2.0, cfg.RecoveryBudgetFactor, 1e-9)
	require.True(t, cfg.SkipSatisfiesDependency)
	require.Equal(t, "http://localhost:8001", cfg.Perception.ParserURL)
	require.Equal(t, 1280, cfg.Browser.Viewport.Width)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := []byte(`
workers: 4
timeout: 120s
verify_threshold: 0.8
skip_satisfies_dependency: false
llm:
  provider: local
  base_url: http://localhost:11434
`)
	require.NoError(t, os.WriteFile(file, content, 0600))

	cfg, err := Load(WithConfigFile(file))
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 2*time.Minute, cfg.Timeout)
	require.InDelta(t, 0.8, cfg.VerifyThreshold, 1e-9)
	require.False(t, cfg.SkipSatisfiesDependency)
	require.Equal(t, "local", cfg.LLM.Provider)
	require.Equal(t, "http://localhost:11434", cfg.LLM.BaseURL)
	// Unset keys keep defaults.
	require.Equal(t, 50, cfg.MaxIterations)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WEBPILOT_HOME", t.TempDir())
	t.Setenv("WEBPILOT_WORKERS", "3")
	t.Setenv("WEBPILOT_LLM_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Workers)
	require.Equal(t, "secret", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"threshold above one", func(c *Config) { c.VerifyThreshold = 1.5 }, true},
		{"negative budget", func(c *Config) { c.RecoveryBudgetFactor = -1 }, true},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Workers:              2,
				MaxIterations:        50,
				VerifyThreshold:      0.6,
				RecoveryBudgetFactor: 2.0,
			}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
