package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
streams:
  - endpoint: localhost:9090
    method: /feeds.v1.BlockFeed/Subscribe
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	s := cfg.Streams[0]
	if s.Name != "/feeds.v1.BlockFeed/Subscribe" {
		t.Errorf("name not defaulted from method: %q", s.Name)
	}
	if len(s.RetryCodes) != 1 || s.RetryCodes[0] != 14 {
		t.Errorf("retry codes = %v, want [14]", s.RetryCodes)
	}
	if s.Backoff.InitialRetryDelay != 100*time.Millisecond {
		t.Errorf("initial retry delay = %v", s.Backoff.InitialRetryDelay)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_RELAY_ENDPOINT", "feeds.internal:443")
	path := writeConfig(t, `
streams:
  - name: blocks
    endpoint: ${TEST_RELAY_ENDPOINT}
    method: /feeds.v1.BlockFeed/Subscribe
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Streams[0].Endpoint != "feeds.internal:443" {
		t.Errorf("endpoint = %q", cfg.Streams[0].Endpoint)
	}
}

func TestLoadRejectsBothBudgets(t *testing.T) {
	path := writeConfig(t, `
streams:
  - name: blocks
    endpoint: localhost:9090
    method: /feeds.v1.BlockFeed/Subscribe
    backoff:
      max_retries: 3
      total_timeout: 60000000000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for both budgets")
	}
}
