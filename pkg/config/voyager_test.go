package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadVoyagerConfigDefaults(t *testing.T) {
	t.Setenv("VOYAGER_CONFIG_FILE", "")
	t.Setenv("TRUST_PROXY_HEADERS", "")
	cfg, err := LoadVoyagerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres store, got %q", cfg.StoreDriver)
	}
	if cfg.CreateTimeout != 10*time.Minute {
		t.Fatalf("unexpected create timeout %s", cfg.CreateTimeout)
	}
	if cfg.TrustProxyHeaders {
		t.Fatal("expected forwarded headers to be untrusted by default")
	}
}

func TestLoadVoyagerConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voyager.yaml")
	content := "base_domain: example.com\nhost_ip: 10.0.0.5\nmonitor_interval: 2m\nstore_driver: mongo\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("VOYAGER_CONFIG_FILE", path)
	t.Setenv("HOST_IP", "10.0.0.9")

	cfg, err := LoadVoyagerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseDomain != "example.com" {
		t.Fatalf("expected base domain from file, got %q", cfg.BaseDomain)
	}
	if cfg.HostIP != "10.0.0.9" {
		t.Fatalf("expected env override for host ip, got %q", cfg.HostIP)
	}
	if cfg.MonitorInterval != 2*time.Minute {
		t.Fatalf("expected monitor interval from file, got %s", cfg.MonitorInterval)
	}
	if cfg.StoreDriver != "mongo" {
		t.Fatalf("expected mongo driver, got %q", cfg.StoreDriver)
	}
}

func TestLoadVoyagerConfigMissingFile(t *testing.T) {
	t.Setenv("VOYAGER_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadVoyagerConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGetSecondsInvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_SECONDS", "abc")
	if got := GetSeconds("SOME_SECONDS", 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}
