package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(nil)

	c.RecordTokenRefresh(ResultSuccess)
	c.RecordTokenRefresh(ResultSuccess)
	c.RecordTokenRefresh(ResultFailure)
	c.RecordUpstreamResponse(http.StatusTooManyRequests)
	c.RecordInstructionsFetch(ResultNotModified)

	if got := testutil.ToFloat64(c.tokenRefreshTotal.WithLabelValues(ResultSuccess)); got != 2 {
		t.Errorf("refresh success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.tokenRefreshTotal.WithLabelValues(ResultFailure)); got != 1 {
		t.Errorf("refresh failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.upstreamResponsesTotal.WithLabelValues("429")); got != 1 {
		t.Errorf("upstream 429 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.instructionsFetchTotal.WithLabelValues(ResultNotModified)); got != 1 {
		t.Errorf("instructions not_modified = %v, want 1", got)
	}
}

func TestRecordTokenUsage(t *testing.T) {
	c := NewCollector(nil)
	c.RecordTokenUsage("gpt-5", TokenKindInput, 10)
	c.RecordTokenUsage("gpt-5", TokenKindInput, 5)
	c.RecordTokenUsage("gpt-5", TokenKindCached, 0)

	if got := testutil.ToFloat64(c.tokensTotal.WithLabelValues("gpt-5", TokenKindInput)); got != 15 {
		t.Errorf("input tokens = %v, want 15", got)
	}
	if got := testutil.CollectAndCount(c.tokensTotal); got != 1 {
		t.Errorf("series = %d, want 1 (zero counts are skipped)", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordTokenRefresh(ResultSuccess)
	c.RecordUpstreamResponse(200)
	c.RecordInstructionsFetch(ResultFresh)
	c.RecordTokenUsage("gpt-5", TokenKindOutput, 3)
	if c.Registry() != nil {
		t.Fatalf("nil collector returned a registry")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	c := NewCollector(nil)
	c.RecordUpstreamResponse(200)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "codexbridge_upstream_responses_total") {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
