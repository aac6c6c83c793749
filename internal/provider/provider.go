// Package provider is the composition root the host talks to. It wires the
// OAuth client, the credential slot, the instruction cache and the codex
// transport behind a small surface: authenticate, log out, list models and
// hand out an HTTP client that speaks the responses API.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/browser"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/instructions"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/router-for-me/CodexBridge/internal/registry"
	"github.com/router-for-me/CodexBridge/internal/runtime/executor"
	"github.com/router-for-me/CodexBridge/internal/tokenstore"
	"github.com/tidwall/sjson"
)

// APIKeySentinel is the placeholder key handed to SDK clients. The transport
// strips it and attaches the subscription credential instead.
const APIKeySentinel = "codex-oauth"

// DefaultAuthTimeout bounds one interactive login.
const DefaultAuthTimeout = 5 * time.Minute

// SDKConfig is what a host needs to build an OpenAI-compatible client.
type SDKConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider exposes the bridge to a host application.
type Provider struct {
	cfg          *config.Config
	oauth        *codex.CodexAuth
	tokens       *tokenstore.Store
	instructions *instructions.Cache
	metrics      *metrics.Collector
	client       *http.Client
	secretPath   string

	login       LoginOptions
	authTimeout time.Duration
	openURL     func(string) error
	copyText    func(string) error
}

// Option configures a Provider.
type Option func(*Provider)

// WithLoginOptions sets how Authenticate interacts with the user.
func WithLoginOptions(opts LoginOptions) Option {
	return func(p *Provider) { p.login = opts }
}

// WithAuthTimeout overrides DefaultAuthTimeout.
func WithAuthTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.authTimeout = d
		}
	}
}

// WithBrowserOpener replaces the function that opens the authorization URL.
func WithBrowserOpener(open func(string) error) Option {
	return func(p *Provider) {
		if open != nil {
			p.openURL = open
		}
	}
}

// WithMetrics records upstream statuses on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Provider) { p.metrics = collector }
}

// New composes a Provider. tokens must already be initialized; cache may be nil.
func New(cfg *config.Config, oauth *codex.CodexAuth, tokens *tokenstore.Store, cache *instructions.Cache, opts ...Option) *Provider {
	if cfg == nil {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	}
	p := &Provider{
		cfg:          cfg,
		oauth:        oauth,
		tokens:       tokens,
		instructions: cache,
		authTimeout:  DefaultAuthTimeout,
		openURL:      browser.OpenURL,
		copyText:     copyToClipboard,
	}
	for _, opt := range opts {
		opt(p)
	}

	transport := &executor.CodexTransport{
		Base:       baseTransport(cfg),
		Tokens:     tokens,
		Metrics:    p.metrics,
		RequestLog: cfg.RequestLog,
	}
	if cache != nil {
		transport.Instructions = cache
	}
	p.client = &http.Client{Transport: transport}
	return p
}

// IsAuthenticated reports whether a credential with a refresh path is loaded.
func (p *Provider) IsAuthenticated() bool {
	return p.tokens.HasValidToken()
}

// Logout discards the credential and any pending authorization.
func (p *Provider) Logout(ctx context.Context) error {
	if err := p.tokens.ClearTokens(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// GetModels returns the model table.
func (p *Provider) GetModels() []*registry.ModelInfo {
	return registry.GetModels()
}

// SDKConfig returns the settings for an OpenAI-compatible SDK client.
func (p *Provider) SDKConfig() SDKConfig {
	return SDKConfig{
		APIKey:     APIKeySentinel,
		BaseURL:    p.cfg.UpstreamBaseURL,
		HTTPClient: p.client,
	}
}

// HTTPClient returns the client whose transport talks to the codex backend.
func (p *Provider) HTTPClient() *http.Client { return p.client }

// Tokens exposes the credential slot to the scheduler and the local API.
func (p *Provider) Tokens() *tokenstore.Store { return p.tokens }

// SecretPath is the local secret file, or "" for remote backends.
func (p *Provider) SecretPath() string { return p.secretPath }

// Instructions exposes the instruction cache. It may be nil.
func (p *Provider) Instructions() *instructions.Cache { return p.instructions }

// ResponsesURL is the endpoint requests are posted to before path rewriting.
func (p *Provider) ResponsesURL() string {
	return strings.TrimRight(p.cfg.UpstreamBaseURL, "/") + "/responses"
}

// Complete sends prompt to model and returns the assistant text.
func (p *Provider) Complete(ctx context.Context, model, prompt string) (string, error) {
	body := []byte(`{"stream":true}`)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "input", prompt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ResponsesURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+APIKeySentinel)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return "", &executor.UpstreamError{StatusCode: resp.StatusCode, Body: errBody}
	}
	return executor.ExtractText(resp.Body)
}

// CountTokens approximates the prompt tokens of a request body.
func (p *Provider) CountTokens(model string, body []byte) (int64, error) {
	return executor.CountTokens(model, body)
}
