// Package util provides helpers shared across the codex bridge: log level
// handling, path resolution, outbound HTTP clients and secret masking.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/config"
	log "github.com/sirupsen/logrus"
)

// SetLogLevel switches logrus between debug and info following cfg.Debug.
// The change is logged only when the level actually moves.
func SetLogLevel(cfg *config.Config) {
	want := log.InfoLevel
	if cfg != nil && cfg.Debug {
		want = log.DebugLevel
	}
	if previous := log.GetLevel(); previous != want {
		log.SetLevel(want)
		log.Infof("log level changed from %s to %s", previous, want)
	}
}

// ResolveAuthDir expands a leading "~" in authDir and cleans the result.
// Backslashes after the tilde are accepted so Windows-style config values work.
func ResolveAuthDir(authDir string) (string, error) {
	if authDir == "" {
		return "", nil
	}
	rest, hasTilde := strings.CutPrefix(authDir, "~")
	if !hasTilde {
		return filepath.Clean(authDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve auth dir: %w", err)
	}
	rest = strings.ReplaceAll(strings.TrimLeft(rest, "/\\"), "\\", "/")
	return filepath.Clean(filepath.Join(home, filepath.FromSlash(rest))), nil
}

// ResolveInstructionsDir returns the instruction cache directory, defaulting
// to an "instructions" folder below the resolved auth directory.
func ResolveInstructionsDir(cfg *config.Config) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("resolve instructions dir: config is nil")
	}
	if dir := strings.TrimSpace(cfg.InstructionsDir); dir != "" {
		return ResolveAuthDir(dir)
	}
	authDir, err := ResolveAuthDir(cfg.AuthDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(authDir, "instructions"), nil
}

// WritablePath returns WRITABLE_PATH (or writable_path), cleaned, when set.
// Containers use it to relocate config.yaml and logs to a mounted volume.
func WritablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return filepath.Clean(value)
		}
	}
	return ""
}
