package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigParsesKebabKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
port: 9000
debug: true
proxy-url: socks5://127.0.0.1:1080
api-keys:
  - local-key
oauth-callback-port: 1456
upstream-base-url: https://example.test/backend-api/
prewarm-schedule: "-"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9000 || !cfg.Debug {
		t.Fatalf("unexpected port/debug: %d %t", cfg.Port, cfg.Debug)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Fatalf("proxy-url = %q", cfg.ProxyURL)
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "local-key" {
		t.Fatalf("api-keys = %v", cfg.APIKeys)
	}
	if cfg.OAuthCallbackPort != 1456 {
		t.Fatalf("oauth-callback-port = %d", cfg.OAuthCallbackPort)
	}
	if cfg.UpstreamBaseURL != "https://example.test/backend-api" {
		t.Fatalf("upstream-base-url = %q", cfg.UpstreamBaseURL)
	}
	if cfg.PrewarmSchedule != "-" {
		t.Fatalf("prewarm-schedule = %q", cfg.PrewarmSchedule)
	}
	if cfg.RefreshSchedule != DefaultRefreshSchedule {
		t.Fatalf("refresh-schedule default not applied: %q", cfg.RefreshSchedule)
	}
}

func TestLoadConfigOptionalMissingFile(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.UpstreamBaseURL != DefaultUpstreamBaseURL {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	if _, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing required config")
	}
}
