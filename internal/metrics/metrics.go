// Package metrics exposes prometheus counters for the bridge: token
// refresh outcomes, upstream response statuses, instruction cache fetches
// and the token usage the upstream reports.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally and metrics stay optional.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codexbridge"

// Result label values.
const (
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultSkipped     = "skipped"
	ResultNotModified = "not_modified"
	ResultFresh       = "fresh"
	ResultStale       = "stale"
)

// Collector owns the registry and every counter.
type Collector struct {
	registry *prometheus.Registry

	tokenRefreshTotal      *prometheus.CounterVec
	upstreamResponsesTotal *prometheus.CounterVec
	instructionsFetchTotal *prometheus.CounterVec
	tokensTotal            *prometheus.CounterVec
}

// NewCollector creates the counters and registers them with registry. A nil
// registry gets a fresh one.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		tokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Total number of OAuth token refresh attempts by result",
			},
			[]string{"result"},
		),
		upstreamResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_responses_total",
				Help:      "Total number of upstream responses by HTTP status",
			},
			[]string{"status"},
		),
		instructionsFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_fetch_total",
				Help:      "Total number of instruction cache lookups by result",
			},
			[]string{"result"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by upstream usage blocks, by model and kind",
			},
			[]string{"model", "kind"},
		),
	}
	registry.MustRegister(c.tokenRefreshTotal, c.upstreamResponsesTotal, c.instructionsFetchTotal, c.tokensTotal)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordTokenRefresh counts one refresh attempt.
func (c *Collector) RecordTokenRefresh(result string) {
	if c == nil {
		return
	}
	c.tokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordUpstreamResponse counts one upstream response by status code.
func (c *Collector) RecordUpstreamResponse(status int) {
	if c == nil {
		return
	}
	c.upstreamResponsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordInstructionsFetch counts one instruction cache lookup.
func (c *Collector) RecordInstructionsFetch(result string) {
	if c == nil {
		return
	}
	c.instructionsFetchTotal.WithLabelValues(result).Inc()
}

// Token kinds for RecordTokenUsage.
const (
	TokenKindInput     = "input"
	TokenKindOutput    = "output"
	TokenKindCached    = "cached"
	TokenKindReasoning = "reasoning"
)

// RecordTokenUsage adds count tokens of kind for model. Non-positive counts are ignored.
func (c *Collector) RecordTokenUsage(model, kind string, count int64) {
	if c == nil || count <= 0 {
		return
	}
	c.tokensTotal.WithLabelValues(model, kind).Add(float64(count))
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
