package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Redis.URL != "redis://localhost:6379" {
		t.Fatalf("unexpected redis url %q", cfg.Redis.URL)
	}
	if cfg.Redis.Prefix != "owlmq" {
		t.Fatalf("unexpected prefix %q", cfg.Redis.Prefix)
	}
	if cfg.Worker.MaxJobs != 1 {
		t.Fatalf("unexpected max jobs %d", cfg.Worker.MaxJobs)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.Worker.PollInterval)
	}
	if cfg.Stale.StaleAfter != 30*time.Second {
		t.Fatalf("unexpected stale after %s", cfg.Stale.StaleAfter)
	}
	if cfg.Stale.Manual {
		t.Fatal("stale checker defaults to automatic")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owlmq.yaml")
	contents := `
redis:
  url: redis://queue.internal:6380/2
  prefix: myapp
worker:
  max_jobs: 8
  tenants:
    - acme
    - globex
stale:
  stale_after: 90s
  manual: true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.URL != "redis://queue.internal:6380/2" {
		t.Fatalf("unexpected redis url %q", cfg.Redis.URL)
	}
	if cfg.Redis.Prefix != "myapp" {
		t.Fatalf("unexpected prefix %q", cfg.Redis.Prefix)
	}
	if cfg.Worker.MaxJobs != 8 {
		t.Fatalf("unexpected max jobs %d", cfg.Worker.MaxJobs)
	}
	if len(cfg.Worker.Tenants) != 2 || cfg.Worker.Tenants[0] != "acme" {
		t.Fatalf("unexpected tenants %v", cfg.Worker.Tenants)
	}
	if cfg.Stale.StaleAfter != 90*time.Second || !cfg.Stale.Manual {
		t.Fatalf("unexpected stale config %+v", cfg.Stale)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file must fail")
	}
}

func TestValidate(t *testing.T) {
	cfg := &QueueConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing redis url must fail validation")
	}

	cfg.Redis.URL = "redis://localhost:6379"
	cfg.Worker.MaxJobs = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative max jobs must fail validation")
	}

	cfg.Worker.MaxJobs = 4
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
