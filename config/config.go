// Package config loads client configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fwojciec/keymap"
	"gopkg.in/yaml.v3"
)

// State backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Generators.
const (
	GeneratorRemote = "remote"
	GeneratorGemini = "gemini"
)

// Config holds the client configuration.
type Config struct {
	BaseURL string `yaml:"base_url"`
	FeedURL string `yaml:"feed_url"` // defaults to BaseURL

	// APIKey is forwarded to the backend's generator.
	APIKey       string `yaml:"api_key"`
	Generator    string `yaml:"generator"` // remote or gemini
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`

	State State `yaml:"state"`
	Poll  Poll  `yaml:"poll"`

	LogLevel        string        `yaml:"log_level"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	SessionTTL      time.Duration `yaml:"session_ttl"` // used when a token has no exp claim
	FeedReadTimeout time.Duration `yaml:"feed_read_timeout"`
}

// State selects where session state is persisted.
type State struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Poll tunes verification polling.
type Poll struct {
	Interval    time.Duration `yaml:"interval"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:   "http://localhost:8000",
		Generator: GeneratorRemote,
		State:     State{Backend: BackendFile},
		Poll: Poll{
			Interval:    5 * time.Second,
			Multiplier:  1.5,
			MaxInterval: 30 * time.Second,
			Timeout:     15 * time.Minute,
		},
		LogLevel:        "info",
		CallTimeout:     30 * time.Second,
		SessionTTL:      30 * time.Minute,
		FeedReadTimeout: 60 * time.Second,
	}
}

// Dir returns the per-user configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".keymap")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	env := envReader{getenv: getenv}
	cfg.BaseURL = env.str("KEYMAP_BASE_URL", cfg.BaseURL)
	cfg.FeedURL = env.str("KEYMAP_FEED_URL", cfg.FeedURL)
	cfg.APIKey = env.str("KEYMAP_API_KEY", cfg.APIKey)
	cfg.Generator = env.str("KEYMAP_GENERATOR", cfg.Generator)
	cfg.GeminiAPIKey = env.str("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.State.Backend = env.str("KEYMAP_STATE_BACKEND", cfg.State.Backend)
	cfg.State.Path = env.str("KEYMAP_STATE_PATH", cfg.State.Path)
	cfg.LogLevel = env.str("KEYMAP_LOG_LEVEL", cfg.LogLevel)
	cfg.CallTimeout = env.millis("KEYMAP_CALL_TIMEOUT_MS", cfg.CallTimeout)
	cfg.Poll.Interval = env.millis("KEYMAP_POLL_INTERVAL_MS", cfg.Poll.Interval)
	if env.err != nil {
		return Config{}, env.err
	}

	if cfg.FeedURL == "" {
		cfg.FeedURL = cfg.BaseURL
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaultStatePath(cfg.State.Backend)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("base_url is required: %w", keymap.ErrValidation)
	case c.State.Backend != BackendFile && c.State.Backend != BackendSQLite:
		return fmt.Errorf("unknown state backend %q: %w", c.State.Backend, keymap.ErrValidation)
	case c.Generator != GeneratorRemote && c.Generator != GeneratorGemini:
		return fmt.Errorf("unknown generator %q: %w", c.Generator, keymap.ErrValidation)
	case c.Poll.Interval <= 0:
		return fmt.Errorf("poll interval must be positive: %w", keymap.ErrValidation)
	case c.Poll.Multiplier < 1:
		return fmt.Errorf("poll multiplier must be at least 1: %w", keymap.ErrValidation)
	case c.CallTimeout < 0:
		return fmt.Errorf("call timeout must not be negative: %w", keymap.ErrValidation)
	}
	return nil
}

func defaultStatePath(backend string) string {
	if backend == BackendSQLite {
		return filepath.Join(Dir(), "state.db")
	}
	return filepath.Join(Dir(), "state.json")
}

// envReader applies overrides and keeps the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) millis(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		if e.err == nil {
			e.err = fmt.Errorf("%s: invalid milliseconds %q: %w", key, v, keymap.ErrValidation)
		}
		return def
	}
	return time.Duration(n) * time.Millisecond
}
