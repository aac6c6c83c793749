package cmd

import (
	"fmt"
	"sync"

	"github.com/router-for-me/CodexBridge/internal/config"
	log "github.com/sirupsen/logrus"
)

// startupSettings are read once while the server is built. Editing them in
// a running process has no effect until the next start.
var startupSettings = []struct {
	name  string
	value func(*config.Config) string
}{
	{"proxy-url", func(c *config.Config) string { return c.ProxyURL }},
	{"tls-fingerprint", func(c *config.Config) string { return fmt.Sprint(c.TLSFingerprint) }},
	{"request-log", func(c *config.Config) string { return fmt.Sprint(c.RequestLog) }},
	{"upstream-base-url", func(c *config.Config) string { return c.UpstreamBaseURL }},
	{"auth-dir", func(c *config.Config) string { return c.AuthDir }},
	{"prewarm-schedule", func(c *config.Config) string { return c.PrewarmSchedule }},
	{"refresh-schedule", func(c *config.Config) string { return c.RefreshSchedule }},
}

// restartTracker follows startup-only settings across reloads. It compares
// each reload with the previous one, so an edit is reported once.
type restartTracker struct {
	mu      sync.Mutex
	running *config.Config
	last    *config.Config
}

func newRestartTracker(running *config.Config) *restartTracker {
	return &restartTracker{running: running, last: running}
}

// observe records next and returns the settings edited since the last
// reload: pending ones differ from the running process, restored ones are
// back to the value it started with.
func (r *restartTracker) observe(next *config.Config) (pending, restored []string) {
	if next == nil {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, setting := range startupSettings {
		value := setting.value(next)
		if value == setting.value(r.last) {
			continue
		}
		if value == setting.value(r.running) {
			restored = append(restored, setting.name)
		} else {
			pending = append(pending, setting.name)
		}
	}
	r.last = next
	return pending, restored
}

func (r *restartTracker) report(next *config.Config) {
	pending, restored := r.observe(next)
	for _, name := range pending {
		log.Warnf("%s changed, restart to apply", name)
	}
	for _, name := range restored {
		log.Infof("%s is back to its running value", name)
	}
}
