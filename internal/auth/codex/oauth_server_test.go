package codex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestOAuthServerDeliversCallback(t *testing.T) {
	srv := NewOAuthServer(0)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/auth/callback?code=abc&state=xyz", srv.Port()))
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}

	result, err := srv.WaitForCallback(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitForCallback: %v", err)
	}
	if result.Code != "abc" || result.State != "xyz" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestOAuthServerReportsProviderError(t *testing.T) {
	srv := NewOAuthServer(0)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/auth/callback?error=access_denied", srv.Port()))
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	result, err := srv.WaitForCallback(context.Background(), time.Second)
	if err != nil || result.Error != "access_denied" {
		t.Fatalf("unexpected result %+v, %v", result, err)
	}
}

func TestOAuthServerTimeout(t *testing.T) {
	srv := NewOAuthServer(0)
	_, err := srv.WaitForCallback(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected callback timeout, got %v", err)
	}
}
