package ggufai

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
)

// Config holds the wrapper settings. It is resolved once (file, then
// environment, then defaults for whatever is still unset) and treated as
// immutable afterwards.
type Config struct {
	// ModelPath is the path to the .gguf model file.
	ModelPath string `toml:"model_path" env:"GGUFAI_MODEL"`
	// MaxTokens caps how many new tokens a single call may generate.
	MaxTokens int `toml:"max_tokens" env:"GGUFAI_MAX_TOKENS"`
	// MaxInputTokens caps how many prompt tokens are sent to the model.
	// Prompts over the cap are truncated, not rejected.
	MaxInputTokens int `toml:"max_input_tokens" env:"GGUFAI_MAX_INPUT_TOKENS"`
	// Truncate selects which end of an over-length prompt is dropped:
	// "tail" keeps the beginning, "head" keeps the end.
	Truncate string `toml:"truncate" env:"GGUFAI_TRUNCATE"`

	Normalize NormalizeConfig `toml:"normalize"`
	Backend   BackendConfig   `toml:"backend"`
}

// NormalizeConfig selects the built-in text cleanup rules applied to prompts
// before tokenization.
type NormalizeConfig struct {
	// Disabled turns the pre-pass off entirely.
	Disabled bool `toml:"disabled" env:"GGUFAI_NORMALIZE_DISABLED"`
	// OnlyLetters drops everything that is not a letter or a space.
	OnlyLetters bool `toml:"only_letters" env:"GGUFAI_NORMALIZE_ONLY_LETTERS"`
	// StripListMarkers removes leading bullet and numbered-list markers.
	StripListMarkers bool `toml:"strip_list_markers" env:"GGUFAI_NORMALIZE_STRIP_LIST_MARKERS"`
}

// BackendConfig selects how the model is actually driven. When ServerURL is
// set the HTTP backend is used; otherwise the llama.cpp binaries are invoked
// directly.
type BackendConfig struct {
	// ServerURL is the base URL of a running llama.cpp server.
	ServerURL string `toml:"server_url" env:"GGUFAI_SERVER_URL"`
	// CLIPath is the llama-cli binary; resolved from $PATH when empty.
	CLIPath string `toml:"cli_path" env:"GGUFAI_CLI_PATH"`
	// TokenizePath is the llama-tokenize binary; resolved from $PATH when empty.
	TokenizePath string `toml:"tokenize_path" env:"GGUFAI_TOKENIZE_PATH"`
	// TimeoutSeconds bounds a single backend call. 0 means the default.
	TimeoutSeconds int `toml:"timeout_seconds" env:"GGUFAI_TIMEOUT_SECONDS"`
}

// Truncation side values accepted by Config.Truncate.
const (
	TruncateTail = "tail"
	TruncateHead = "head"
)

// ConfigDir returns the config directory path.
// Resolution order: $GGUFAI_CONFIG_DIR > $XDG_CONFIG_HOME/ggufai > ~/.config/ggufai
func ConfigDir() string {
	if dir := os.Getenv("GGUFAI_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "ggufai")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "ggufai-config")
	}
	return filepath.Join(home, ".config", "ggufai")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxTokens:      256,
		MaxInputTokens: 1024,
		Truncate:       TruncateTail,
		Backend: BackendConfig{
			TimeoutSeconds: 120,
		},
	}
}

// LoadConfig loads config from the given path (ConfigPath() when empty),
// applies environment overrides, and fills remaining gaps with defaults.
// A missing file is not an error; the environment and defaults still apply.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// Environment beats file.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxInputTokens == 0 {
		cfg.MaxInputTokens = defaults.MaxInputTokens
	}
	if cfg.Truncate == "" {
		cfg.Truncate = defaults.Truncate
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = defaults.Backend.TimeoutSeconds
	}

	return &cfg, nil
}

// Validate checks construction-time parameters. It runs before any model
// loading, so a bad budget never touches the model file.
func (c *Config) Validate() error {
	if c.MaxTokens <= 0 {
		return &ConfigError{Field: "max_tokens", Reason: "must be a positive integer"}
	}
	if c.MaxInputTokens <= 0 {
		return &ConfigError{Field: "max_input_tokens", Reason: "must be a positive integer"}
	}
	switch c.Truncate {
	case TruncateTail, TruncateHead:
	default:
		return &ConfigError{Field: "truncate", Reason: fmt.Sprintf("unknown side %q (want %q or %q)", c.Truncate, TruncateTail, TruncateHead)}
	}
	if c.ModelPath == "" {
		return &ConfigError{Field: "model_path", Reason: "missing model file path"}
	}
	return nil
}
