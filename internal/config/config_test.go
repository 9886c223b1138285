package config

import (
	"path/filepath"
	"testing"
)

// clearEnv blanks the variables Load reads so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"INTAKE_DIR", "OUTPUT_DIR", "ARCHIVE_DIR", "DB_PATH", "RULES_PATH",
		"HTTP_PORT", "PORT", "SITE", "FUSION_MODE", "PROCESS_CRON", "FETCH_CRON",
		"WORKER_COUNT", "QUEUE_SIZE", "JOB_TIMEOUT_SEC", "STRICT_CONFIG",
		"ENVIRONMENT", "ENABLE_WATCHER",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 1 {
		t.Fatalf("default WorkerCount = %d, want 1", cfg.WorkerCount)
	}
	if cfg.QueueSize != 64 {
		t.Fatalf("default QueueSize = %d, want 64", cfg.QueueSize)
	}
	if cfg.JobTimeoutSec != 600 {
		t.Fatalf("default JobTimeoutSec = %d, want 600", cfg.JobTimeoutSec)
	}
	if cfg.HTTPPort != ":8080" {
		t.Fatalf("default HTTPPort = %q, want :8080", cfg.HTTPPort)
	}
	if cfg.FusionMode != "combine" {
		t.Fatalf("default FusionMode = %q, want combine", cfg.FusionMode)
	}
	if !cfg.EnableWatcher {
		t.Fatalf("watcher should default to enabled")
	}
}

func TestLoadWorkerCountOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_COUNT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 3 {
		t.Fatalf("WorkerCount = %d, want 3", cfg.WorkerCount)
	}

	t.Setenv("WORKER_COUNT", "not-a-number")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 1 {
		t.Fatalf("invalid WORKER_COUNT should fall back to 1, got %d", cfg.WorkerCount)
	}
}
