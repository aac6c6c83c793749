package cmd

import (
	"reflect"
	"testing"

	"github.com/router-for-me/CodexBridge/internal/config"
)

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func TestRestartTrackerReportsEachEditOnce(t *testing.T) {
	tracker := newRestartTracker(testConfig(nil))

	proxied := testConfig(func(c *config.Config) { c.ProxyURL = "socks5://127.0.0.1:1080" })
	pending, restored := tracker.observe(proxied)
	if !reflect.DeepEqual(pending, []string{"proxy-url"}) || len(restored) != 0 {
		t.Fatalf("first reload = %v / %v", pending, restored)
	}

	// an unrelated reload must not repeat the proxy warning
	again := testConfig(func(c *config.Config) {
		c.ProxyURL = "socks5://127.0.0.1:1080"
		c.Debug = true
	})
	if pending, restored = tracker.observe(again); len(pending) != 0 || len(restored) != 0 {
		t.Fatalf("second reload = %v / %v", pending, restored)
	}

	if pending, restored = tracker.observe(testConfig(nil)); len(pending) != 0 || !reflect.DeepEqual(restored, []string{"proxy-url"}) {
		t.Fatalf("revert = %v / %v", pending, restored)
	}
}

func TestRestartTrackerCoversStartupSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "request-log", mutate: func(c *config.Config) { c.RequestLog = true }},
		{name: "tls-fingerprint", mutate: func(c *config.Config) { c.TLSFingerprint = true }},
		{name: "upstream-base-url", mutate: func(c *config.Config) { c.UpstreamBaseURL = "http://127.0.0.1:9000" }},
		{name: "auth-dir", mutate: func(c *config.Config) { c.AuthDir = "/var/lib/bridge" }},
		{name: "refresh-schedule", mutate: func(c *config.Config) { c.RefreshSchedule = "-" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newRestartTracker(testConfig(nil))
			pending, _ := tracker.observe(testConfig(tt.mutate))
			if !reflect.DeepEqual(pending, []string{tt.name}) {
				t.Fatalf("pending = %v, want [%s]", pending, tt.name)
			}
		})
	}
}

func TestRestartTrackerIgnoresLiveSettings(t *testing.T) {
	tracker := newRestartTracker(testConfig(nil))
	next := testConfig(func(c *config.Config) {
		c.Debug = true
		c.APIKeys = []string{"local-key"}
	})
	if pending, restored := tracker.observe(next); len(pending) != 0 || len(restored) != 0 {
		t.Fatalf("live settings reported: %v / %v", pending, restored)
	}
}
