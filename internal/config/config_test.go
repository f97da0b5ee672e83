package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alfred.yaml")
	content := []byte(`
provider: openai
model: gpt-4o
compression:
  threshold: 0.8
engine:
  max_turns: 3
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.Compression.Threshold != 0.8 {
		t.Errorf("threshold = %v", cfg.Compression.Threshold)
	}
	if cfg.Compression.Preserve != 0.3 {
		t.Errorf("preserve = %v, want default kept", cfg.Compression.Preserve)
	}
	if cfg.Engine.MaxTurns != 3 || cfg.Engine.MaxAttempts != 2 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"ALFRED_PROVIDER":      "gemini",
		"ALFRED_MODEL":         "gemini-2.0-flash",
		"ALFRED_MAX_TURNS":     "7",
		"ALFRED_OAUTH_ENABLED": "true",
		"ALFRED_AUTH_ENV_VARS": "GEMINI_API_KEY, GOOGLE_API_KEY",
	}
	applyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Provider != "gemini" || cfg.Model != "gemini-2.0-flash" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.Engine.MaxTurns != 7 {
		t.Errorf("max turns = %d", cfg.Engine.MaxTurns)
	}
	if !cfg.Auth.OAuthEnabled {
		t.Error("oauth override not applied")
	}
	want := []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	if len(cfg.Auth.EnvVars) != 2 || cfg.Auth.EnvVars[0] != want[0] || cfg.Auth.EnvVars[1] != want[1] {
		t.Errorf("env vars = %v, want %v", cfg.Auth.EnvVars, want)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider = "cohere" }},
		{"threshold too high", func(c *Config) { c.Compression.Threshold = 1.0 }},
		{"preserve zero", func(c *Config) { c.Compression.Preserve = 0 }},
		{"zero attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvVarsOrConvention(t *testing.T) {
	cfg := Default()
	cfg.Provider = "gemini"
	got := cfg.EnvVarsOrConvention()
	if len(got) != 2 || got[0] != "GEMINI_API_KEY" {
		t.Errorf("convention = %v", got)
	}

	cfg.Auth.EnvVars = []string{"MY_KEY"}
	if got := cfg.EnvVarsOrConvention(); len(got) != 1 || got[0] != "MY_KEY" {
		t.Errorf("explicit chain not preferred: %v", got)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config path")
	}
}
