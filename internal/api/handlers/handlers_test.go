package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/tidwall/gjson"
)

func TestBuildErrorResponseBody(t *testing.T) {
	body := BuildErrorResponseBody(http.StatusTooManyRequests, "slow down")
	if got := gjson.GetBytes(body, "error.type").String(); got != "rate_limit_error" {
		t.Fatalf("type = %q", got)
	}
	if got := gjson.GetBytes(body, "error.message").String(); got != "slow down" {
		t.Fatalf("message = %q", got)
	}

	upstream := `{"error":{"code":"usage_limit_reached"}}`
	if got := string(BuildErrorResponseBody(http.StatusTooManyRequests, upstream)); got != upstream {
		t.Fatalf("json error text not preserved: %s", got)
	}

	if got := gjson.GetBytes(BuildErrorResponseBody(0, ""), "error.message").String(); got != "Internal Server Error" {
		t.Fatalf("default message = %q", got)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not authenticated", err: fmt.Errorf("wrapped: %w", codex.NewAuthError(codex.KindNotAuthenticated, "", nil)), want: http.StatusUnauthorized},
		{name: "refresh failed", err: codex.NewAuthError(codex.KindRefreshFailed, "", nil), want: http.StatusUnauthorized},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("boom"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFromError(tt.err); got != tt.want {
				t.Fatalf("StatusFromError = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFilterUpstreamHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "X-Trace")
	src.Set("X-Trace", "1")
	src.Set("Content-Length", "10")
	src.Set("X-Request-Id", "abc")
	got := FilterUpstreamHeaders(src)
	if got.Get("X-Request-Id") != "abc" {
		t.Fatalf("regular header dropped: %v", got)
	}
	for _, name := range []string{"Connection", "X-Trace", "Content-Length"} {
		if got.Get(name) != "" {
			t.Fatalf("%s should be filtered: %v", name, got)
		}
	}

	dst := http.Header{}
	dst.Set("X-Request-Id", "local")
	WriteUpstreamHeaders(dst, src)
	if dst.Get("X-Request-Id") != "local" {
		t.Fatalf("existing header overwritten: %v", dst)
	}
}
