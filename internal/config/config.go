// Package config loads the YAML configuration file and applies defaults
// and ALFRED_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// Provider selects the backend adapter: anthropic, openai, gemini.
	Provider string `yaml:"provider"`
	// Model is the default model identifier for the provider.
	Model string `yaml:"model"`
	// System is the system prompt.
	System string `yaml:"system"`
	// Fallbacks are "provider/model" candidates tried after persistent
	// rate limiting on the primary.
	Fallbacks []string `yaml:"fallbacks"`

	Auth        AuthConfig        `yaml:"auth"`
	Compression CompressionConfig `yaml:"compression"`
	Engine      EngineConfig      `yaml:"engine"`
	Log         LogConfig         `yaml:"log"`
}

// AuthConfig configures the credential precedence chain.
type AuthConfig struct {
	// SessionKey is an explicit credential, highest precedence.
	SessionKey string `yaml:"session_key"`
	// EnvVars are environment variable names checked in order. Empty
	// means the provider's conventional variable.
	EnvVars []string `yaml:"env_vars"`
	// OAuthEnabled gates the lazy OAuth fallback.
	OAuthEnabled bool `yaml:"oauth_enabled"`
}

// CompressionConfig tunes history compression.
type CompressionConfig struct {
	// Threshold is the context-window fraction that triggers compression.
	Threshold float64 `yaml:"threshold"`
	// Preserve is the history fraction kept out of the summary.
	Preserve float64 `yaml:"preserve"`
}

// EngineConfig tunes the turn engine and supervising loop.
type EngineConfig struct {
	// MaxTurns caps turns per supervised run.
	MaxTurns int `yaml:"max_turns"`
	// MaxAttempts is the per-turn attempt budget including the first try.
	MaxAttempts int `yaml:"max_attempts"`
	// MaxTokens bounds response length; 0 uses the backend default.
	MaxTokens int `yaml:"max_tokens"`
}

// LogConfig configures console and debug logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// DebugDir is where the rotating JSON debug log lives. Empty
	// disables the debug log.
	DebugDir string `yaml:"debug_dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
		Compression: CompressionConfig{
			Threshold: 0.7,
			Preserve:  0.3,
		},
		Engine: EngineConfig{
			MaxTurns:    10,
			MaxAttempts: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path, layering it over the defaults and
// then applying environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.Getenv)
	return cfg, cfg.validate()
}

// applyEnv layers ALFRED_* environment variables over the config.
func applyEnv(cfg *Config, getenv func(string) string) {
	setString(getenv, "ALFRED_PROVIDER", &cfg.Provider)
	setString(getenv, "ALFRED_MODEL", &cfg.Model)
	setString(getenv, "ALFRED_SESSION_KEY", &cfg.Auth.SessionKey)
	setString(getenv, "ALFRED_LOG_LEVEL", &cfg.Log.Level)
	setString(getenv, "ALFRED_LOG_FORMAT", &cfg.Log.Format)
	setString(getenv, "ALFRED_DEBUG_DIR", &cfg.Log.DebugDir)
	setBool(getenv, "ALFRED_OAUTH_ENABLED", &cfg.Auth.OAuthEnabled)
	setInt(getenv, "ALFRED_MAX_TURNS", &cfg.Engine.MaxTurns)
	setInt(getenv, "ALFRED_MAX_ATTEMPTS", &cfg.Engine.MaxAttempts)
	setFloat(getenv, "ALFRED_COMPRESSION_THRESHOLD", &cfg.Compression.Threshold)

	if v := getenv("ALFRED_AUTH_ENV_VARS"); v != "" {
		cfg.Auth.EnvVars = splitList(v)
	}
	if v := getenv("ALFRED_FALLBACKS"); v != "" {
		cfg.Fallbacks = splitList(v)
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.Compression.Threshold <= 0 || c.Compression.Threshold >= 1 {
		return fmt.Errorf("config: compression threshold %v out of range (0, 1)", c.Compression.Threshold)
	}
	if c.Compression.Preserve <= 0 || c.Compression.Preserve >= 1 {
		return fmt.Errorf("config: compression preserve %v out of range (0, 1)", c.Compression.Preserve)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be at least 1")
	}
	return nil
}

// EnvVarsOrConvention returns the configured env var chain, or the
// provider's conventional variable when none was configured.
func (c *Config) EnvVarsOrConvention() []string {
	if len(c.Auth.EnvVars) > 0 {
		return c.Auth.EnvVars
	}
	switch c.Provider {
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "openai":
		return []string{"OPENAI_API_KEY"}
	case "gemini":
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	return nil
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setBool(getenv func(string) string, key string, dst *bool) {
	if v := getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(getenv func(string) string, key string, dst *int) {
	if v := getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(getenv func(string) string, key string, dst *float64) {
	if v := getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
