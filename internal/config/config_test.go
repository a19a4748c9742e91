package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chTempDir moves the test into an empty directory so no local config file
// or .env leaks into the loaded configuration.
func chTempDir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(orig)
		Reset()
	})
	Reset()
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.RecencyHours != 24 {
		t.Errorf("Expected default recency 24, got %d", cfg.App.RecencyHours)
	}
	if cfg.Retrieval.MinAccepted != 8 {
		t.Errorf("Expected default min_accepted 8, got %d", cfg.Retrieval.MinAccepted)
	}
	if cfg.Retrieval.MaxAttempts != 24 {
		t.Errorf("Expected default max_attempts 24, got %d", cfg.Retrieval.MaxAttempts)
	}
	if cfg.Retrieval.GlobalConcurrency != 4 || cfg.Retrieval.PerHostConcurrency != 2 {
		t.Errorf("Expected default concurrency 4/2, got %d/%d",
			cfg.Retrieval.GlobalConcurrency, cfg.Retrieval.PerHostConcurrency)
	}
	if cfg.Persistence.Mode != "fs" {
		t.Errorf("Expected default persistence mode fs, got %q", cfg.Persistence.Mode)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if !cfg.Connectors.WebNewsRSS.Enabled || cfg.Connectors.WebNewsRSS.HL != "en-US" {
		t.Errorf("Expected default feed connector config, got %+v", cfg.Connectors.WebNewsRSS)
	}
}

func TestLoadFromFile(t *testing.T) {
	chTempDir(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
app:
  recency_hours: 48
retrieval:
  min_accepted: 3
persistence:
  mode: "off"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.RecencyHours != 48 {
		t.Errorf("Expected recency 48 from file, got %d", cfg.App.RecencyHours)
	}
	if cfg.Retrieval.MinAccepted != 3 {
		t.Errorf("Expected min_accepted 3 from file, got %d", cfg.Retrieval.MinAccepted)
	}
	if cfg.Retrieval.MaxAttempts != 24 {
		t.Errorf("Expected untouched keys to keep defaults, got %d", cfg.Retrieval.MaxAttempts)
	}
	if cfg.Persistence.Mode != "off" {
		t.Errorf("Expected persistence off from file, got %q", cfg.Persistence.Mode)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	chTempDir(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("persistence:\n  mode: s3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for unknown persistence mode")
	}
}

func TestLoadCachesUntilReset(t *testing.T) {
	chTempDir(t)

	first, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := Load("")
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if first != second {
		t.Error("Expected cached config on repeat load")
	}

	Reset()
	third, err := Load("")
	if err != nil {
		t.Fatalf("Load after reset failed: %v", err)
	}
	if third == first {
		t.Error("Expected fresh config after reset")
	}
}
