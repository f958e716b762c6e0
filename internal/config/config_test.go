package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "network:\n  user_agent: test-agent\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network.UserAgent != "test-agent" {
		t.Errorf("UserAgent = %q", cfg.Network.UserAgent)
	}
	if cfg.Network.GetTimeout() != 30*time.Second {
		t.Errorf("GetTimeout() = %v, want 30s", cfg.Network.GetTimeout())
	}
	if cfg.Cache.MaxSizeMB != 1024 {
		t.Errorf("MaxSizeMB = %d, want 1024", cfg.Cache.MaxSizeMB)
	}
	if cfg.Cache.EvictEveryCommit != 10 {
		t.Errorf("EvictEveryCommit = %d, want 10", cfg.Cache.EvictEveryCommit)
	}
	if cfg.Downloads.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Downloads.Concurrency)
	}
	if cfg.Downloads.GetChunkSize() != 64*1024 {
		t.Errorf("GetChunkSize() = %d, want 65536", cfg.Downloads.GetChunkSize())
	}
	if !cfg.Downloads.Resumable {
		t.Error("Resumable should default to true")
	}
	if cfg.Downloads.GetBackoffBase() != time.Second {
		t.Errorf("GetBackoffBase() = %v, want 1s", cfg.Downloads.GetBackoffBase())
	}
	if cfg.Downloads.GetBackoffCap() != 30*time.Second {
		t.Errorf("GetBackoffCap() = %v, want 30s", cfg.Downloads.GetBackoffCap())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
network:
  user_agent: envfetch-test
  timeout: 10s
  offline_mode: true
cache:
  root_dir: /tmp/envfetch-cache
  max_size_mb: 256
  evict_every_commit: 5
mirrors:
  probe_timeout: 3s
  healthy_threshold: 1s
  max_candidates: 2
downloads:
  concurrency: 8
  chunk_size_kb: 128
  max_retries: 5
  backoff_base: 500ms
  backoff_cap: 10s
  resumable: false
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Network.OfflineMode {
		t.Error("OfflineMode not read")
	}
	if cfg.Cache.GetMaxCacheSize() != 256*1024*1024 {
		t.Errorf("GetMaxCacheSize() = %d", cfg.Cache.GetMaxCacheSize())
	}
	if cfg.Mirrors.GetProbeTimeout() != 3*time.Second {
		t.Errorf("GetProbeTimeout() = %v", cfg.Mirrors.GetProbeTimeout())
	}
	if cfg.Mirrors.GetHealthyThreshold() != time.Second {
		t.Errorf("GetHealthyThreshold() = %v", cfg.Mirrors.GetHealthyThreshold())
	}
	if cfg.Downloads.GetBackoffBase() != 500*time.Millisecond {
		t.Errorf("GetBackoffBase() = %v", cfg.Downloads.GetBackoffBase())
	}
	if cfg.Downloads.GetChunkSize() != 128*1024 {
		t.Errorf("GetChunkSize() = %d", cfg.Downloads.GetChunkSize())
	}
	if cfg.Downloads.Resumable {
		t.Error("Resumable should be false")
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			"zero cache size",
			"cache:\n  max_size_mb: 0\n",
			"cache.max_size_mb",
		},
		{
			"concurrency too high",
			"downloads:\n  concurrency: 64\n",
			"downloads.concurrency",
		},
		{
			"bad timeout",
			"network:\n  timeout: not-a-duration\n",
			"network.timeout",
		},
		{
			"bad log level",
			"logging:\n  level: verbose\n",
			"logging.level",
		},
		{
			"bad log format",
			"logging:\n  format: xml\n",
			"logging.format",
		},
		{
			"bad backoff",
			"downloads:\n  backoff_base: fast\n",
			"downloads.backoff_base",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
