// Package watcher watches the config file and the local secret file and
// triggers hot reloads. Parent directories are watched so editors that
// replace files by rename are still noticed.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/CodexBridge/internal/config"
	log "github.com/sirupsen/logrus"
)

const (
	configReloadDebounce = 150 * time.Millisecond
	secretReloadDebounce = 250 * time.Millisecond
)

// Watcher debounces file events into reload callbacks.
type Watcher struct {
	configPath string
	secretPath string

	onConfig  func(*config.Config)
	onSecrets func()

	watcher *fsnotify.Watcher

	mu             sync.Mutex
	configTimer    *time.Timer
	secretTimer    *time.Timer
	lastConfigHash string
	lastSecretHash string
}

// NewWatcher creates a watcher. secretPath may be empty when the secret
// backend is not a local file; either callback may be nil.
func NewWatcher(configPath, secretPath string, onConfig func(*config.Config), onSecrets func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		configPath: cleanPath(configPath),
		secretPath: cleanPath(secretPath),
		onConfig:   onConfig,
		onSecrets:  onSecrets,
		watcher:    fsw,
	}
	w.lastConfigHash = fileHash(w.configPath)
	w.lastSecretHash = fileHash(w.secretPath)
	return w, nil
}

// Start watches the parent directories and processes events until ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	dirs := make(map[string]struct{})
	for _, path := range []string{w.configPath, w.secretPath} {
		if path == "" {
			continue
		}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		log.Debugf("watching directory: %s", dir)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop releases the underlying watcher and cancels pending reloads.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	for _, timer := range []*time.Timer{w.configTimer, w.secretTimer} {
		if timer != nil {
			timer.Stop()
		}
	}
	w.configTimer, w.secretTimer = nil, nil
	w.mu.Unlock()
	return w.watcher.Close()
}

func cleanPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Clean(path)
}
