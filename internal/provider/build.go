package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/instructions"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/router-for-me/CodexBridge/internal/store"
	"github.com/router-for-me/CodexBridge/internal/tokenstore"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

// Open builds a Provider from configuration: it opens the secret backend,
// loads any stored credential and prepares the instruction cache. The
// returned close function releases the secret backend.
func Open(ctx context.Context, cfg *config.Config, collector *metrics.Collector, opts ...Option) (*Provider, func(), error) {
	secrets, backend, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open secret store: %w", err)
	}
	log.Infof("secret store backend: %s", backend)
	closeFn := func() {
		if closer, ok := secrets.(store.Closer); ok {
			if errClose := closer.Close(); errClose != nil {
				log.Warnf("failed to close secret store: %v", errClose)
			}
		}
	}

	oauth := codex.NewCodexAuth(cfg)
	tokens := tokenstore.New(secrets, oauth, tokenstore.WithMetrics(collector))
	tokens.Initialize(ctx)

	var cache *instructions.Cache
	if dir, errDir := util.ResolveInstructionsDir(cfg); errDir != nil {
		log.Warnf("instruction cache disabled: %v", errDir)
	} else {
		cache = instructions.New(dir,
			instructions.WithHTTPClient(util.NewHTTPClient(&cfg.SDKConfig)),
			instructions.WithMetrics(collector),
		)
	}

	opts = append([]Option{WithMetrics(collector)}, opts...)
	p := New(cfg, oauth, tokens, cache, opts...)
	if fileStore, ok := secrets.(*store.FileStore); ok {
		p.secretPath = fileStore.Path()
	}
	return p, closeFn, nil
}

// baseTransport honors proxy-url and tls-fingerprint for upstream calls.
func baseTransport(cfg *config.Config) http.RoundTripper {
	return util.NewHTTPClient(&cfg.SDKConfig).Transport
}
