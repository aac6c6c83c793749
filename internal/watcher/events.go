package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&relevantOps == 0 {
		return
	}
	name := normalizePath(event.Name)
	switch {
	case w.configPath != "" && name == normalizePath(w.configPath):
		w.schedule(&w.configTimer, configReloadDebounce, w.reloadConfigIfChanged)
	case w.secretPath != "" && name == normalizePath(w.secretPath):
		w.schedule(&w.secretTimer, secretReloadDebounce, w.reloadSecretsIfChanged)
	}
}

// schedule (re)arms timer so a burst of events yields one call to fn.
func (w *Watcher) schedule(timer **time.Timer, delay time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if *timer != nil {
		(*timer).Stop()
	}
	*timer = time.AfterFunc(delay, fn)
}

func (w *Watcher) reloadSecretsIfChanged() {
	hash := fileHash(w.secretPath)
	w.mu.Lock()
	unchanged := hash == w.lastSecretHash
	w.lastSecretHash = hash
	w.mu.Unlock()
	if unchanged {
		return
	}
	log.Info("secret file changed, reloading credential")
	if w.onSecrets != nil {
		w.onSecrets()
	}
}

// fileHash returns the sha256 of the file, or "" when it cannot be read.
func fileHash(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalizePath(path string) string {
	path = filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if dir, errDir := filepath.EvalSymlinks(filepath.Dir(path)); errDir == nil {
		path = filepath.Join(dir, filepath.Base(path))
	}
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
	}
	return path
}
