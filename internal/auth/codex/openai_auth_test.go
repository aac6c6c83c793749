package codex

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, handler func(form url.Values) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Errorf("parse form: %v", err)
		}
		status, payload := handler(form)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixedClock() time.Time { return time.UnixMilli(1_700_000_000_000) }

func TestExchangeCodeSuccess(t *testing.T) {
	access := makeJWT(t, map[string]any{accountClaim: map[string]any{"chatgpt_account_id": "acct-1"}})
	idToken := makeJWT(t, map[string]any{"email": "dev@example.com"})
	srv := newTokenServer(t, func(form url.Values) (int, string) {
		if form.Get("grant_type") != "authorization_code" || form.Get("code") != "the-code" || form.Get("code_verifier") != "the-verifier" {
			t.Errorf("unexpected form %v", form)
		}
		if form.Get("client_id") != ClientID || form.Get("redirect_uri") != "http://localhost:1455/auth/callback" {
			t.Errorf("unexpected client fields %v", form)
		}
		return http.StatusOK, `{"access_token":"` + access + `","refresh_token":"r1","id_token":"` + idToken + `","expires_in":3600}`
	})

	auth := NewCodexAuth(nil, WithTokenURL(srv.URL), WithClock(fixedClock))
	cred, err := auth.ExchangeCode(context.Background(), "the-code", "the-verifier")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if cred.AccessToken != access || cred.RefreshToken != "r1" || cred.AccountID != "acct-1" {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if cred.ExpiresAt != 1_700_000_000_000+3_600_000 {
		t.Fatalf("expires_at = %d", cred.ExpiresAt)
	}
	if cred.Email != "dev@example.com" {
		t.Fatalf("email = %q", cred.Email)
	}
}

func TestExchangeCodeFailureCarriesBody(t *testing.T) {
	srv := newTokenServer(t, func(url.Values) (int, string) {
		return http.StatusBadRequest, `{"error":"invalid_grant"}`
	})
	auth := NewCodexAuth(nil, WithTokenURL(srv.URL))
	_, err := auth.ExchangeCode(context.Background(), "c", "v")
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Kind != KindTokenExchangeFailed {
		t.Fatalf("expected token exchange failure, got %v", err)
	}
	if authErr.Detail != `{"error":"invalid_grant"}` {
		t.Fatalf("detail = %q", authErr.Detail)
	}
}

func TestExchangeCodeAccountIDMissing(t *testing.T) {
	access := makeJWT(t, map[string]any{"scope": "x"})
	srv := newTokenServer(t, func(url.Values) (int, string) {
		return http.StatusOK, `{"access_token":"` + access + `","refresh_token":"r1","expires_in":10}`
	})
	auth := NewCodexAuth(nil, WithTokenURL(srv.URL))
	if _, err := auth.ExchangeCode(context.Background(), "c", "v"); !errors.Is(err, ErrAccountIDMissing) {
		t.Fatalf("expected account id missing, got %v", err)
	}
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	access := makeJWT(t, map[string]any{"sub": "user-9"})
	srv := newTokenServer(t, func(form url.Values) (int, string) {
		if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "old-refresh" {
			t.Errorf("unexpected form %v", form)
		}
		return http.StatusOK, `{"access_token":"` + access + `","expires_in":60}`
	})
	auth := NewCodexAuth(nil, WithTokenURL(srv.URL), WithClock(fixedClock))
	cred, err := auth.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if cred.RefreshToken != "old-refresh" {
		t.Fatalf("refresh token = %q", cred.RefreshToken)
	}
	if cred.AccountID != "user-9" {
		t.Fatalf("account id = %q", cred.AccountID)
	}
}

func TestRefreshFailure(t *testing.T) {
	srv := newTokenServer(t, func(url.Values) (int, string) {
		return http.StatusUnauthorized, `{"error":"refresh_token_reused"}`
	})
	auth := NewCodexAuth(nil, WithTokenURL(srv.URL))
	if _, err := auth.Refresh(context.Background(), "r"); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected refresh failure, got %v", err)
	}
	if _, err := auth.Refresh(context.Background(), ""); !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected refresh failure for empty token, got %v", err)
	}
}
