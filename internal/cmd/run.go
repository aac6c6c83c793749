// Package cmd implements the entry points of the bridge binary: the OAuth
// login and logout commands, a one-shot prompt and the long-running server.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/CodexBridge/internal/api"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/logging"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/router-for-me/CodexBridge/internal/provider"
	"github.com/router-for-me/CodexBridge/internal/scheduler"
	"github.com/router-for-me/CodexBridge/internal/tokenstore"
	"github.com/router-for-me/CodexBridge/internal/watcher"
	log "github.com/sirupsen/logrus"
)

// StartService runs the local API server with background jobs and config
// hot reload until SIGINT or SIGTERM.
func StartService(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(nil)
	p, closeFn, err := provider.Open(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer closeFn()

	if !p.IsAuthenticated() {
		log.Warn("no stored credential, requests will fail until you log in with -login")
	}

	jobs := scheduler.New()
	if cache := p.Instructions(); cache != nil {
		if err = jobs.Add(scheduler.PrewarmJob(cfg.PrewarmSchedule, cache)); err != nil {
			return err
		}
	}
	if err = jobs.Add(scheduler.RefreshJob(cfg.RefreshSchedule, p.Tokens(), tokenstore.RefreshBuffer*2)); err != nil {
		return err
	}
	if err = jobs.Start(ctx); err != nil {
		return err
	}
	defer jobs.Stop()

	server := api.NewServer(cfg, p, collector)

	if configPath != "" {
		restarts := newRestartTracker(cfg)
		fileWatcher, errWatch := watcher.NewWatcher(configPath, p.SecretPath(),
			func(next *config.Config) {
				if errLog := logging.ConfigureLogOutput(next); errLog != nil {
					log.Errorf("failed to apply log output settings: %v", errLog)
				}
				restarts.report(next)
				server.UpdateConfig(next)
			},
			func() { p.Tokens().Reload(ctx) },
		)
		if errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		} else if errStart := fileWatcher.Start(ctx); errStart != nil {
			log.Warnf("config hot reload disabled: %v", errStart)
			_ = fileWatcher.Stop()
		} else {
			defer func() { _ = fileWatcher.Stop() }()
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err = <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	if err = server.Stop(context.Background()); err != nil {
		return err
	}
	return <-serveErr
}
