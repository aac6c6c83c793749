package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/router-for-me/CodexBridge/internal/store"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return baseTime }

type fakeRefresher struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	account string
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (*codex.Credential, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &codex.Credential{
		AccessToken:  "access-" + refreshToken + "-next",
		RefreshToken: "",
		ExpiresAt:    baseTime.Add(time.Hour).UnixMilli(),
		AccountID:    f.account,
	}, nil
}

func expiredCredential() *codex.Credential {
	return &codex.Credential{
		AccessToken:  "old-access",
		RefreshToken: "rt",
		ExpiresAt:    baseTime.Add(-time.Millisecond).UnixMilli(),
		AccountID:    "acct-1",
	}
}

func TestIsTokenExpiredBoundary(t *testing.T) {
	buffer := 5 * time.Minute
	expiresAt := baseTime.Add(10 * time.Minute).UnixMilli()

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "well before", now: baseTime, want: false},
		{name: "one ms before boundary", now: baseTime.Add(5*time.Minute - time.Millisecond), want: false},
		{name: "exactly at boundary", now: baseTime.Add(5 * time.Minute), want: true},
		{name: "after expiry", now: baseTime.Add(11 * time.Minute), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(expiresAt, buffer, tt.now); got != tt.want {
				t.Fatalf("IsTokenExpired = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestGetValidAccessTokenNotAuthenticated(t *testing.T) {
	s := New(store.NewMemoryStore(), &fakeRefresher{}, WithClock(fixedClock))
	if _, err := s.GetValidAccessToken(context.Background()); !errors.Is(err, codex.ErrNotAuthenticated) {
		t.Fatalf("err = %v, want NotAuthenticated", err)
	}
	if s.HasValidToken() {
		t.Fatalf("HasValidToken on empty store")
	}
}

func TestGetValidAccessTokenReturnsFreshTokenWithoutRefresh(t *testing.T) {
	refresher := &fakeRefresher{}
	s := New(store.NewMemoryStore(), refresher, WithClock(fixedClock))
	cred := expiredCredential()
	cred.ExpiresAt = baseTime.Add(time.Hour).UnixMilli()
	if err := s.SaveTokens(context.Background(), cred); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	token, err := s.GetValidAccessToken(context.Background())
	if err != nil || token != "old-access" {
		t.Fatalf("token = %q, err = %v", token, err)
	}
	if refresher.calls.Load() != 0 {
		t.Fatalf("unexpected refresh")
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	refresher := &fakeRefresher{delay: 50 * time.Millisecond}
	collector := metrics.NewCollector(nil)
	secrets := store.NewMemoryStore()
	s := New(secrets, refresher, WithClock(fixedClock), WithMetrics(collector))
	if err := s.SaveTokens(context.Background(), expiredCredential()); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}

	const callers = 16
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = s.GetValidAccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	if got := refresher.calls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "access-rt-next" {
			t.Fatalf("caller %d token = %q", i, tokens[i])
		}
	}

	cred, _ := s.Credential()
	if cred.RefreshToken != "rt" {
		t.Errorf("refresh token not carried forward: %q", cred.RefreshToken)
	}
	if cred.AccountID != "acct-1" {
		t.Errorf("account id not carried forward: %q", cred.AccountID)
	}
	raw, ok, _ := secrets.Get(context.Background(), CredentialKey)
	if !ok {
		t.Fatalf("refreshed credential not persisted")
	}
	var persisted codex.Credential
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil || persisted.AccessToken != "access-rt-next" {
		t.Fatalf("persisted = %+v, err = %v", persisted, err)
	}
	if n, err := testutil.GatherAndCount(collector.Registry(), "codexbridge_token_refresh_total"); err != nil || n != 1 {
		t.Fatalf("refresh metric series = %d, err = %v", n, err)
	}
}

func TestRefreshFailureClearsCredential(t *testing.T) {
	refresher := &fakeRefresher{err: codex.NewAuthError(codex.KindRefreshFailed, "status 400: invalid_grant", nil)}
	secrets := store.NewMemoryStore()
	s := New(secrets, refresher, WithClock(fixedClock))
	ctx := context.Background()
	if err := s.SaveTokens(ctx, expiredCredential()); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	_ = s.StorePendingState(ctx, "stale-state")

	_, err := s.GetValidAccessToken(ctx)
	if !errors.Is(err, codex.ErrRefreshFailed) {
		t.Fatalf("err = %v, want RefreshFailed", err)
	}
	if s.HasValidToken() {
		t.Fatalf("credential kept after refresh failure")
	}
	if secrets.Len() != 0 {
		t.Fatalf("secrets left behind: %d", secrets.Len())
	}
	if _, err = s.GetValidAccessToken(ctx); !errors.Is(err, codex.ErrNotAuthenticated) {
		t.Fatalf("after failure err = %v, want NotAuthenticated", err)
	}

	// the slot is released, so a later login can refresh again
	refresher.err = nil
	if err = s.SaveTokens(ctx, expiredCredential()); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}
	if _, err = s.GetValidAccessToken(ctx); err != nil {
		t.Fatalf("refresh after failure: %v", err)
	}
	if got := refresher.calls.Load(); got != 2 {
		t.Fatalf("refresh calls = %d, want 2", got)
	}
}

func TestRefreshFailureWrapsPlainErrors(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("connection reset")}
	s := New(store.NewMemoryStore(), refresher, WithClock(fixedClock))
	_ = s.SaveTokens(context.Background(), expiredCredential())

	_, err := s.GetValidAccessToken(context.Background())
	var authErr *codex.AuthError
	if !errors.As(err, &authErr) || authErr.Kind != codex.KindRefreshFailed {
		t.Fatalf("err = %v, want RefreshFailed AuthError", err)
	}
}

func TestInitializeLoadsPersistedCredential(t *testing.T) {
	secrets := store.NewMemoryStore()
	data, _ := json.Marshal(expiredCredential())
	_ = secrets.Set(context.Background(), CredentialKey, string(data))

	s := New(secrets, &fakeRefresher{}, WithClock(fixedClock))
	s.Initialize(context.Background())
	if !s.HasValidToken() {
		t.Fatalf("credential not loaded")
	}
}

func TestInitializeIgnoresCorruptCredential(t *testing.T) {
	secrets := store.NewMemoryStore()
	_ = secrets.Set(context.Background(), CredentialKey, "{not json")

	s := New(secrets, &fakeRefresher{}, WithClock(fixedClock))
	s.Initialize(context.Background())
	if s.HasValidToken() {
		t.Fatalf("corrupt credential treated as valid")
	}
}

func TestReloadFollowsStorage(t *testing.T) {
	ctx := context.Background()
	secrets := store.NewMemoryStore()
	s := New(secrets, &fakeRefresher{}, WithClock(fixedClock))
	s.Initialize(ctx)
	if s.HasValidToken() {
		t.Fatalf("empty storage produced a credential")
	}

	data, _ := json.Marshal(expiredCredential())
	_ = secrets.Set(ctx, CredentialKey, string(data))
	s.Reload(ctx)
	if !s.HasValidToken() {
		t.Fatalf("credential written by another process not picked up")
	}

	_ = secrets.Set(ctx, CredentialKey, "{broken")
	s.Reload(ctx)
	if !s.HasValidToken() {
		t.Fatalf("corrupt data must not drop the current credential")
	}

	_ = secrets.Delete(ctx, CredentialKey)
	s.Reload(ctx)
	if s.HasValidToken() {
		t.Fatalf("credential kept after storage was cleared")
	}
}

func TestHasValidTokenRequiresRefreshToken(t *testing.T) {
	s := New(store.NewMemoryStore(), &fakeRefresher{}, WithClock(fixedClock))
	cred := expiredCredential()
	cred.RefreshToken = ""
	_ = s.SaveTokens(context.Background(), cred)
	if s.HasValidToken() {
		t.Fatalf("credential without refresh token counted as authenticated")
	}
}

func TestPendingAuthorization(t *testing.T) {
	ctx := context.Background()
	secrets := store.NewMemoryStore()
	s := New(secrets, &fakeRefresher{}, WithClock(fixedClock))

	_ = s.StorePendingVerifier(ctx, "v1")
	_ = s.StorePendingVerifier(ctx, "v2")
	_ = s.StorePendingState(ctx, "st")

	verifier, ok, err := s.GetPendingVerifier(ctx)
	if err != nil || !ok || verifier != "v2" {
		t.Fatalf("GetPendingVerifier = %q %t %v", verifier, ok, err)
	}
	if _, ok, _ = s.GetPendingVerifier(ctx); ok {
		t.Fatalf("verifier readable twice")
	}

	for i := 0; i < 2; i++ {
		if state, okState, _ := s.GetPendingState(ctx); !okState || state != "st" {
			t.Fatalf("GetPendingState read %d = %q %t", i, state, okState)
		}
	}
	if err = s.ClearPendingState(ctx); err != nil {
		t.Fatalf("ClearPendingState: %v", err)
	}
	if _, ok, _ = s.GetPendingState(ctx); ok {
		t.Fatalf("state survived ClearPendingState")
	}

	_ = s.StorePendingVerifier(ctx, "v3")
	_ = s.StorePendingState(ctx, "st3")
	if err = s.ClearPendingAuthorization(ctx); err != nil {
		t.Fatalf("ClearPendingAuthorization: %v", err)
	}
	if secrets.Len() != 0 {
		t.Fatalf("pending authorization left behind")
	}
}

func TestClearTokensErasesEverything(t *testing.T) {
	ctx := context.Background()
	secrets := store.NewMemoryStore()
	s := New(secrets, &fakeRefresher{}, WithClock(fixedClock))
	_ = s.SaveTokens(ctx, expiredCredential())
	_ = s.StorePendingVerifier(ctx, "v")
	_ = s.StorePendingState(ctx, "s")

	if err := s.ClearTokens(ctx); err != nil {
		t.Fatalf("ClearTokens: %v", err)
	}
	if secrets.Len() != 0 {
		t.Fatalf("secrets left: %d", secrets.Len())
	}
	if _, err := s.GetValidAccessToken(ctx); !errors.Is(err, codex.ErrNotAuthenticated) {
		t.Fatalf("err = %v, want NotAuthenticated", err)
	}
}

func TestRefreshIfNeeded(t *testing.T) {
	ctx := context.Background()
	refresher := &fakeRefresher{}
	s := New(store.NewMemoryStore(), refresher, WithClock(fixedClock))

	if ran, err := s.RefreshIfNeeded(ctx, 10*time.Minute); ran || err != nil {
		t.Fatalf("empty store: ran %t err %v", ran, err)
	}

	cred := expiredCredential()
	cred.ExpiresAt = baseTime.Add(8 * time.Minute).UnixMilli()
	_ = s.SaveTokens(ctx, cred)

	// outside the request buffer but inside the proactive window
	if _, err := s.GetValidAccessToken(ctx); err != nil || refresher.calls.Load() != 0 {
		t.Fatalf("request path refreshed early: err %v calls %d", err, refresher.calls.Load())
	}
	ran, err := s.RefreshIfNeeded(ctx, 10*time.Minute)
	if err != nil || !ran {
		t.Fatalf("RefreshIfNeeded = %t, %v", ran, err)
	}
	if refresher.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d", refresher.calls.Load())
	}
	if ran, _ = s.RefreshIfNeeded(ctx, 10*time.Minute); ran {
		t.Fatalf("refreshed twice")
	}
}

func TestEarlyRefreshFailureKeepsUsableCredential(t *testing.T) {
	ctx := context.Background()
	refresher := &fakeRefresher{err: errors.New("dial tcp: lookup auth.openai.com: no such host")}
	collector := metrics.NewCollector(nil)
	secrets := store.NewMemoryStore()
	s := New(secrets, refresher, WithClock(fixedClock), WithMetrics(collector))

	cred := expiredCredential()
	cred.ExpiresAt = baseTime.Add(8 * time.Minute).UnixMilli()
	if err := s.SaveTokens(ctx, cred); err != nil {
		t.Fatalf("SaveTokens: %v", err)
	}

	ran, err := s.RefreshIfNeeded(ctx, 10*time.Minute)
	if ran || !errors.Is(err, codex.ErrRefreshFailed) {
		t.Fatalf("RefreshIfNeeded = %t, %v; want false, RefreshFailed", ran, err)
	}
	if !s.HasValidToken() {
		t.Fatalf("credential dropped after early refresh failure")
	}
	if secrets.Len() == 0 {
		t.Fatalf("persisted credential removed")
	}
	token, err := s.GetValidAccessToken(ctx)
	if err != nil || token != "old-access" {
		t.Fatalf("GetValidAccessToken = %q, %v", token, err)
	}
	if n, err := testutil.GatherAndCount(collector.Registry(), "codexbridge_token_refresh_total"); err != nil || n != 1 {
		t.Fatalf("refresh metric series = %d, %v", n, err)
	}
}

func TestCallerContextCancellation(t *testing.T) {
	refresher := &fakeRefresher{delay: 100 * time.Millisecond}
	s := New(store.NewMemoryStore(), refresher, WithClock(fixedClock))
	_ = s.SaveTokens(context.Background(), expiredCredential())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetValidAccessToken(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
