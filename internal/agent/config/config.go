package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the agent configuration
type Config struct {
	// Session settings
	DataDir string `yaml:"data_dir"` // Platform data directory

	// Model service settings
	Provider string   `yaml:"provider"`           // "anthropic" or "openai"
	Model    string   `yaml:"model"`              // Model name (empty = provider default)
	APIKeys  []string `yaml:"api_keys,omitempty"` // Credential pool; env vars expanded

	// Loop settings
	MaxSteps       int     `yaml:"max_steps"`        // Safety limit (default: 60)
	LoopIntervalMs int     `yaml:"loop_interval_ms"` // Pause between iterations
	MaxTokens      int     `yaml:"max_tokens"`       // Per-decision output budget
	Temperature    float64 `yaml:"temperature"`

	// Capture settings
	Monitor            int `yaml:"monitor"`              // Display index (default: 0)
	ScreenshotMaxWidth int `yaml:"screenshot_max_width"` // Downscale bound (0 = native)

	// Execution settings
	DryRun bool `yaml:"dry_run"` // Log actions instead of injecting them

	// Verification settings (stop-gating)
	Verification VerificationConfig `yaml:"verification"`

	// Status feed buffer size (events; 0 = default 64)
	StatusFeedSize int `yaml:"status_feed_size"`
}

// VerificationConfig gates stop acceptance behind an independent model
// judgment when the goal demands on-screen evidence.
type VerificationConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // default: 0.6
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            DefaultDataDir(),
		Provider:           "anthropic",
		MaxSteps:           60,
		LoopIntervalMs:     800,
		MaxTokens:          1024,
		Temperature:        0.2,
		Monitor:            0,
		ScreenshotMaxWidth: 1280,
		Verification: VerificationConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.6,
		},
	}
}

// DefaultDataDir returns the platform-appropriate data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aik"
	}
	return filepath.Join(home, ".aik")
}

// Load loads config from the data directory's config.yaml. A missing file
// yields the defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(cfg.DataDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := cfg.apply(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFrom loads config from a specific path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.apply(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	if strings.HasPrefix(c.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, c.DataDir[2:])
	}
	for i, k := range c.APIKeys {
		c.APIKeys[i] = os.ExpandEnv(k)
	}
	return nil
}

// Save writes the config to the data directory's config.yaml.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.DataDir, "config.yaml"), data, 0600)
}

// DBPath returns the path to the SQLite session log.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "aik.db")
}

// EnsureDataDir creates the data directory if needed.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0700)
}

// Credentials resolves the API key pool, falling back to the conventional
// environment variables for the configured provider. Empty entries are
// dropped.
func (c *Config) Credentials() []string {
	keys := make([]string, 0, len(c.APIKeys))
	for _, k := range c.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		return keys
	}

	var envs []string
	switch strings.ToLower(c.Provider) {
	case "openai":
		envs = []string{"OPENAI_API_KEYS", "OPENAI_API_KEY"}
	default:
		envs = []string{"ANTHROPIC_API_KEYS", "ANTHROPIC_API_KEY"}
	}
	for _, env := range envs {
		v := strings.TrimSpace(os.Getenv(env))
		if v == "" {
			continue
		}
		// The plural form holds a comma-separated pool.
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			return keys
		}
	}
	return keys
}

// Validate checks settings that would only fail deep inside the loop.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown provider %q (want anthropic or openai)", c.Provider)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be in [0,1], got %g", c.Temperature)
	}
	return nil
}
