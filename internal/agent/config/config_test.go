package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", cfg.Provider)
	}
	if cfg.MaxSteps != 60 {
		t.Errorf("expected MaxSteps 60, got %d", cfg.MaxSteps)
	}
	if cfg.MaxTokens != 1024 {
		t.Errorf("expected MaxTokens 1024, got %d", cfg.MaxTokens)
	}
	if !cfg.Verification.Enabled {
		t.Error("expected verification enabled by default")
	}
	if cfg.Verification.ConfidenceThreshold != 0.6 {
		t.Errorf("expected confidence threshold 0.6, got %g", cfg.Verification.ConfidenceThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
provider: openai
model: gpt-4o
max_steps: 25
dry_run: true
api_keys:
  - key-one
  - ${AIK_TEST_KEY}
verification:
  enabled: false
`)
	if err := os.WriteFile(path, body, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AIK_TEST_KEY", "key-two")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("expected openai, got %s", cfg.Provider)
	}
	if cfg.MaxSteps != 25 {
		t.Errorf("expected MaxSteps 25, got %d", cfg.MaxSteps)
	}
	if !cfg.DryRun {
		t.Error("expected dry_run true")
	}
	if cfg.Verification.Enabled {
		t.Error("expected verification disabled")
	}
	// Unset fields keep their defaults.
	if cfg.MaxTokens != 1024 {
		t.Errorf("expected default MaxTokens, got %d", cfg.MaxTokens)
	}
	// Env vars in api_keys are expanded.
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[1] != "key-two" {
		t.Errorf("expected expanded api keys, got %v", cfg.APIKeys)
	}
}

func TestCredentialsFallBackToEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeys = nil
	t.Setenv("ANTHROPIC_API_KEYS", "a-1, a-2")
	t.Setenv("ANTHROPIC_API_KEY", "ignored-when-pool-set")

	keys := cfg.Credentials()
	if len(keys) != 2 || keys[0] != "a-1" || keys[1] != "a-2" {
		t.Errorf("expected pool from ANTHROPIC_API_KEYS, got %v", keys)
	}

	t.Setenv("ANTHROPIC_API_KEYS", "")
	keys = cfg.Credentials()
	if len(keys) != 1 || keys[0] != "ignored-when-pool-set" {
		t.Errorf("expected single key fallback, got %v", keys)
	}
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "gemini"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown provider")
	}
	cfg = DefaultConfig()
	cfg.Temperature = 3
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range temperature")
	}
}

func TestDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/aik-test"
	if got := cfg.DBPath(); got != filepath.Join("/tmp/aik-test", "aik.db") {
		t.Errorf("unexpected db path %s", got)
	}
}
