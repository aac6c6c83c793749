// Package tokenstore owns the single OAuth credential slot of the process.
//
// The slot moves between unauthenticated, authenticated and refreshing.
// Concurrent callers that find the access token expired share one refresh
// call. A failed refresh of an expired token discards the credential and
// forces a new login; an early refresh that fails keeps the token it had.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/router-for-me/CodexBridge/internal/auth/codex"
	"github.com/router-for-me/CodexBridge/internal/metrics"
	"github.com/router-for-me/CodexBridge/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Secret storage keys.
const (
	CredentialKey      = "codex.credential"
	PendingVerifierKey = "codex.pending_verifier"
	PendingStateKey    = "codex.pending_state"
)

// RefreshBuffer is subtracted from the access token expiry so a token is
// replaced before the upstream starts rejecting it.
const RefreshBuffer = 5 * time.Minute

const refreshTimeout = 30 * time.Second

// Refresher performs the refresh-token grant.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*codex.Credential, error)
}

// Store is the credential slot. Construct one per process with New and
// pass it to every consumer.
type Store struct {
	secrets   store.SecretStore
	refresher Refresher
	metrics   *metrics.Collector
	now       func() time.Time

	mu   sync.RWMutex
	cred *codex.Credential
	// generation changes on every save or clear so a refresh that loses a
	// race with logout does not write the old credential back.
	generation uint64

	group singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics records refresh outcomes on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Store) { s.metrics = collector }
}

// New creates an empty Store. Call Initialize to load a persisted credential.
func New(secrets store.SecretStore, refresher Refresher, opts ...Option) *Store {
	s := &Store{
		secrets:   secrets,
		refresher: refresher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads any persisted credential. It never fails: unreadable or
// unparsable data is logged and the store stays unauthenticated.
func (s *Store) Initialize(ctx context.Context) {
	raw, ok, err := s.secrets.Get(ctx, CredentialKey)
	if err != nil {
		log.Warnf("failed to load stored credential: %v", err)
		return
	}
	if !ok || raw == "" {
		log.Debug("no stored credential")
		return
	}
	var cred codex.Credential
	if err = json.Unmarshal([]byte(raw), &cred); err != nil {
		log.Warnf("stored credential is not valid JSON, ignoring it: %v", err)
		return
	}
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	log.Debugf("loaded stored credential, access token expires %s", cred.Expiry().Format(time.RFC3339))
}

// Reload replaces the slot with whatever storage now holds, for when another
// process logged in or out. A missing credential empties the slot; read
// errors leave it untouched.
func (s *Store) Reload(ctx context.Context) {
	raw, ok, err := s.secrets.Get(ctx, CredentialKey)
	if err != nil {
		log.Warnf("failed to reload stored credential: %v", err)
		return
	}
	var next *codex.Credential
	if ok && raw != "" {
		var cred codex.Credential
		if err = json.Unmarshal([]byte(raw), &cred); err != nil {
			log.Warnf("stored credential is not valid JSON, keeping current one: %v", err)
			return
		}
		next = &cred
	}
	s.mu.Lock()
	s.cred = next
	s.generation++
	s.mu.Unlock()
	if next == nil {
		log.Info("stored credential removed, bridge is logged out")
		return
	}
	log.Info("stored credential reloaded")
}

// HasValidToken reports whether a credential with a refresh token is loaded.
// The access token itself may be expired.
func (s *Store) HasValidToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred != nil && s.cred.RefreshToken != ""
}

// Credential returns a copy of the loaded credential.
func (s *Store) Credential() (codex.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return codex.Credential{}, false
	}
	return *s.cred, true
}

// GetValidAccessToken returns an access token that is not within
// RefreshBuffer of expiry, refreshing it first when needed.
func (s *Store) GetValidAccessToken(ctx context.Context) (string, error) {
	cred, err := s.GetValidCredential(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// GetValidCredential is GetValidAccessToken returning the whole credential,
// which callers need for the account id.
func (s *Store) GetValidCredential(ctx context.Context) (codex.Credential, error) {
	s.mu.RLock()
	cred := s.cred
	s.mu.RUnlock()
	if cred == nil {
		return codex.Credential{}, codex.ErrNotAuthenticated
	}
	if !IsTokenExpired(cred.ExpiresAt, RefreshBuffer, s.now()) {
		return *cred, nil
	}
	return s.refresh(ctx, RefreshBuffer)
}

// RefreshIfNeeded refreshes when the access token expires within window.
// It reports whether a refresh ran. Without a credential it does nothing.
func (s *Store) RefreshIfNeeded(ctx context.Context, window time.Duration) (bool, error) {
	if window < RefreshBuffer {
		window = RefreshBuffer
	}
	s.mu.RLock()
	cred := s.cred
	s.mu.RUnlock()
	if cred == nil || cred.RefreshToken == "" {
		s.metrics.RecordTokenRefresh(metrics.ResultSkipped)
		return false, nil
	}
	if !IsTokenExpired(cred.ExpiresAt, window, s.now()) {
		return false, nil
	}
	_, err := s.refresh(ctx, window)
	return err == nil, err
}

// refresh joins or starts the shared refresh. Each caller stops waiting when
// its own context ends; the refresh itself keeps running for the others.
func (s *Store) refresh(ctx context.Context, window time.Duration) (codex.Credential, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		return s.doRefresh(context.WithoutCancel(ctx), window)
	})
	select {
	case <-ctx.Done():
		return codex.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return codex.Credential{}, res.Err
		}
		return res.Val.(codex.Credential), nil
	}
}

func refreshFailed(err error) error {
	var authErr *codex.AuthError
	if errors.As(err, &authErr) && authErr.Kind == codex.KindRefreshFailed {
		return err
	}
	return codex.NewAuthError(codex.KindRefreshFailed, "token refresh failed", err)
}

func (s *Store) doRefresh(ctx context.Context, window time.Duration) (codex.Credential, error) {
	s.mu.RLock()
	current := s.cred
	generation := s.generation
	s.mu.RUnlock()
	if current == nil {
		return codex.Credential{}, codex.ErrNotAuthenticated
	}
	// A refresh that finished just before this one started already did the work.
	if !IsTokenExpired(current.ExpiresAt, window, s.now()) {
		return *current, nil
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	log.Debug("access token expired, refreshing")
	next, err := s.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		s.metrics.RecordTokenRefresh(metrics.ResultFailure)
		// Still usable for requests; the next attempt happens when it nears expiry.
		if !IsTokenExpired(current.ExpiresAt, RefreshBuffer, s.now()) {
			log.Warnf("early token refresh failed, keeping current credential: %v", err)
			return codex.Credential{}, refreshFailed(err)
		}
		log.Errorf("token refresh failed, clearing stored credential: %v", err)
		if errClear := s.clearIfGeneration(context.WithoutCancel(ctx), generation); errClear != nil {
			log.Errorf("failed to clear credential after refresh failure: %v", errClear)
		}
		return codex.Credential{}, refreshFailed(err)
	}
	s.metrics.RecordTokenRefresh(metrics.ResultSuccess)

	if next.AccountID == "" {
		next.AccountID = current.AccountID
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		log.Warn("credential changed during refresh, discarding refreshed token")
		return codex.Credential{}, codex.ErrNotAuthenticated
	}
	s.cred = next
	s.generation++
	s.mu.Unlock()

	if err = s.persist(ctx, next); err != nil {
		log.Warnf("refreshed token kept in memory only: %v", err)
	}
	return *next, nil
}

// SaveTokens replaces the credential slot and persists it.
func (s *Store) SaveTokens(ctx context.Context, cred *codex.Credential) error {
	if cred == nil {
		return fmt.Errorf("save tokens: credential is nil")
	}
	stored := *cred
	s.mu.Lock()
	s.cred = &stored
	s.generation++
	s.mu.Unlock()
	return s.persist(ctx, &stored)
}

func (s *Store) persist(ctx context.Context, cred *codex.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("save tokens: marshal credential: %w", err)
	}
	if err = s.secrets.Set(ctx, CredentialKey, string(data)); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// ClearTokens erases the credential and any pending authorization.
func (s *Store) ClearTokens(ctx context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.generation++
	s.mu.Unlock()
	return s.clearPersisted(ctx)
}

func (s *Store) clearIfGeneration(ctx context.Context, generation uint64) error {
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return nil
	}
	s.cred = nil
	s.generation++
	s.mu.Unlock()
	return s.clearPersisted(ctx)
}

func (s *Store) clearPersisted(ctx context.Context) error {
	var errs []error
	for _, key := range []string{CredentialKey, PendingVerifierKey, PendingStateKey} {
		if err := s.secrets.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear tokens: %w", errors.Join(errs...))
	}
	return nil
}

// StorePendingVerifier keeps the PKCE verifier until the code is exchanged.
// A second authorization overwrites the first.
func (s *Store) StorePendingVerifier(ctx context.Context, verifier string) error {
	return s.secrets.Set(ctx, PendingVerifierKey, verifier)
}

// GetPendingVerifier returns the pending verifier and deletes it, so a
// verifier can be used for at most one exchange.
func (s *Store) GetPendingVerifier(ctx context.Context) (string, bool, error) {
	verifier, ok, err := s.secrets.Get(ctx, PendingVerifierKey)
	if err != nil || !ok {
		return "", false, err
	}
	if err = s.secrets.Delete(ctx, PendingVerifierKey); err != nil {
		return "", false, err
	}
	return verifier, verifier != "", nil
}

// StorePendingState keeps the authorization state parameter.
func (s *Store) StorePendingState(ctx context.Context, state string) error {
	return s.secrets.Set(ctx, PendingStateKey, state)
}

// GetPendingState returns the pending state without deleting it.
func (s *Store) GetPendingState(ctx context.Context) (string, bool, error) {
	state, ok, err := s.secrets.Get(ctx, PendingStateKey)
	if err != nil || !ok {
		return "", false, err
	}
	return state, state != "", nil
}

// ClearPendingState deletes the pending state.
func (s *Store) ClearPendingState(ctx context.Context) error {
	return s.secrets.Delete(ctx, PendingStateKey)
}

// ClearPendingAuthorization deletes both the pending verifier and state.
func (s *Store) ClearPendingAuthorization(ctx context.Context) error {
	errVerifier := s.secrets.Delete(ctx, PendingVerifierKey)
	errState := s.secrets.Delete(ctx, PendingStateKey)
	return errors.Join(errVerifier, errState)
}

// IsTokenExpired reports whether now is at or past expiresAt (epoch ms)
// minus buffer.
func IsTokenExpired(expiresAt int64, buffer time.Duration, now time.Time) bool {
	return now.UnixMilli() >= expiresAt-buffer.Milliseconds()
}
