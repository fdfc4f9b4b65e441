package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesTemplateWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pool.Size != Default().Pool.Size {
		t.Fatalf("expected default pool size, got %d", cfg.Pool.Size)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("expected template config.toml to be written: %v", err)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	contents := `
[storage]
root = "/data/custom"
vocabulary = ["SPX"]

[pool]
size = 7
idle_timeout = "1m"
sweep_interval = "2m"

[cache]
chain_entries = 10
chain_ttl = "1m"
bar_entries = 10
bar_ttl = "1m"
spot_entries = 10
spot_ttl = "1m"

[retry]
max_attempts = 3
initial_delay = "50ms"
max_delay = "1s"
backoff_factor = 1.5

[logging]
level = "debug"
console = true
file = false
file_path = ""
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Root != "/data/custom" {
		t.Fatalf("expected custom root, got %q", cfg.Storage.Root)
	}
	if cfg.Pool.Size != 7 {
		t.Fatalf("expected pool size 7, got %d", cfg.Pool.Size)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidRetryAttempts(t *testing.T) {
	dir := t.TempDir()
	contents := `
[storage]
root = "/data/custom"

[retry]
max_attempts = 9
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture config: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected validation error for out-of-range retry.max_attempts")
	}
}

func TestEnvOverridesRoot(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ALPHAHISTORY_ROOT", "/env/override")
	t.Setenv("ALPHAHISTORY_LOG_LEVEL", "warn")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Root != "/env/override" {
		t.Fatalf("expected env override root, got %q", cfg.Storage.Root)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env override log level, got %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsEmptyRoot(t *testing.T) {
	cfg := Default()
	cfg.Storage.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty storage root")
	}
}

func TestValidateRejectsNonPositivePoolSize(t *testing.T) {
	cfg := Default()
	cfg.Pool.Size = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero pool size")
	}
}

func TestValidateRejectsLowBackoffFactor(t *testing.T) {
	cfg := Default()
	cfg.Retry.BackoffFactor = 1.0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for backoff factor <= 1.0")
	}
}
