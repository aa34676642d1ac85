package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviewsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
api_url: http://review.internal:9000/api
timeout: 10s
transport: websocket
stale_times:
  files: 1m
inbox:
  dir: /tmp/inbox
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://review.internal:9000/api" || cfg.Timeout != 10*time.Second || cfg.Transport != "websocket" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.StaleTimes.Files != time.Minute {
		t.Fatalf("expected files stale time 1m, got %s", cfg.StaleTimes.Files)
	}
	if cfg.StaleTimes.FileDetail != 5*time.Minute || cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected unset fields to keep defaults, got %+v", cfg)
	}
	if cfg.Inbox.Dir != "/tmp/inbox" || cfg.Inbox.Pattern != "*.json" {
		t.Fatalf("unexpected inbox %+v", cfg.Inbox)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "retry_limit: 5\npoll_interval: 1s\n")
	t.Setenv("REVIEWSYNC_RETRY_LIMIT", "1")
	t.Setenv("REVIEWSYNC_VERBOSE", "true")
	t.Setenv("REVIEWSYNC_POLL_INTERVAL", "not-a-duration")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RetryLimit != 1 || !cfg.Verbose {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("expected invalid env to fall back to the file value, got %s", cfg.PollInterval)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != Default().APIURL || cfg.RetryLimit != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing explicit file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"relative url": func(c *Config) { c.APIURL = "/api" },
		"transport":    func(c *Config) { c.Transport = "carrier-pigeon" },
		"timeout":      func(c *Config) { c.Timeout = 0 },
		"retry limit":  func(c *Config) { c.RetryLimit = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestClientOptionsZeroRetryLimitDisablesRetries(t *testing.T) {
	cfg := Default()
	cfg.RetryLimit = 0
	if got := cfg.ClientOptions(nil).MaxRetries; got != -1 {
		t.Fatalf("expected retries disabled, got %d", got)
	}
}

func TestYAMLRendersReadableDurations(t *testing.T) {
	out, err := Default().YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(string(out), "reconnect_delay: 3s") {
		t.Fatalf("expected readable durations, got:\n%s", out)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	if doc["api_url"] != "http://localhost:8000/api" {
		t.Fatalf("unexpected api_url %v", doc["api_url"])
	}
}
