package watcher

import (
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) reloadConfigIfChanged() {
	hash := fileHash(w.configPath)
	if hash == "" {
		log.Debug("config file missing or unreadable, skipping reload")
		return
	}
	w.mu.Lock()
	unchanged := hash == w.lastConfigHash
	w.mu.Unlock()
	if unchanged {
		log.Debug("config file content unchanged, skipping reload")
		return
	}

	newConfig, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("failed to reload config: %v", err)
		return
	}
	w.mu.Lock()
	w.lastConfigHash = hash
	w.mu.Unlock()

	util.SetLogLevel(newConfig)
	log.Infof("config reloaded from %s", w.configPath)
	if w.onConfig != nil {
		w.onConfig(newConfig)
	}
}
