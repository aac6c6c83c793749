package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// OAuth configuration constants for the ChatGPT subscription login.
const (
	AuthURL      = "https://auth.openai.com/oauth/authorize"
	TokenURL     = "https://auth.openai.com/oauth/token"
	ClientID     = "app_EMoamEEZ73f0CkXaXp7hrann"
	Scope        = "openid email profile offline_access"
	CallbackPath = "/auth/callback"
)

// RedirectURIForPort returns the loopback redirect URI registered for the CLI client.
func RedirectURIForPort(port int) string {
	if port <= 0 {
		port = config.DefaultOAuthCallbackPort
	}
	return fmt.Sprintf("http://localhost:%d%s", port, CallbackPath)
}

// CodexAuth talks to the authorization server: it builds authorization URLs
// and performs the authorization-code and refresh-token grants.
type CodexAuth struct {
	httpClient  *http.Client
	authURL     string
	tokenURL    string
	clientID    string
	redirectURI string
	now         func() time.Time
}

// Option customizes a CodexAuth.
type Option func(*CodexAuth)

// WithHTTPClient replaces the HTTP client used for token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(a *CodexAuth) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(a *CodexAuth) { a.tokenURL = tokenURL }
}

// WithAuthURL overrides the authorization endpoint.
func WithAuthURL(authURL string) Option {
	return func(a *CodexAuth) { a.authURL = authURL }
}

// WithClock overrides the time source used to compute expiries.
func WithClock(now func() time.Time) Option {
	return func(a *CodexAuth) {
		if now != nil {
			a.now = now
		}
	}
}

// NewCodexAuth creates a CodexAuth whose HTTP client honors proxy-url and
// tls-fingerprint, and whose redirect URI uses oauth-callback-port.
func NewCodexAuth(cfg *config.Config, opts ...Option) *CodexAuth {
	port := config.DefaultOAuthCallbackPort
	var sdkCfg *config.SDKConfig
	if cfg != nil {
		port = cfg.OAuthCallbackPort
		sdkCfg = &cfg.SDKConfig
	}
	a := &CodexAuth{
		httpClient:  util.NewHTTPClient(sdkCfg),
		authURL:     AuthURL,
		tokenURL:    TokenURL,
		clientID:    ClientID,
		redirectURI: RedirectURIForPort(port),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildAuthorizationURL issues a new verifier and state and returns the URL
// the user must open. The two trailing vendor flags make the authorization
// server accept the CLI client.
func (o *CodexAuth) BuildAuthorizationURL() (*AuthorizationRequest, error) {
	pkceCodes, err := GeneratePKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:    o.clientID,
		Endpoint:    oauth2.Endpoint{AuthURL: o.authURL, TokenURL: o.tokenURL},
		RedirectURL: o.redirectURI,
		Scopes:      []string{Scope},
	}
	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(pkceCodes.CodeVerifier),
		oauth2.SetAuthURLParam("prompt", "login"),
		oauth2.SetAuthURLParam("id_token_add_organizations", "true"),
		oauth2.SetAuthURLParam("codex_cli_simplified_flow", "true"),
	)

	return &AuthorizationRequest{
		URL:      authURL,
		Verifier: pkceCodes.CodeVerifier,
		State:    state,
	}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeCode trades an authorization code and its PKCE verifier for a Credential.
func (o *CodexAuth) ExchangeCode(ctx context.Context, code, verifier string) (*Credential, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {o.clientID},
		"code":          {code},
		"redirect_uri":  {o.redirectURI},
		"code_verifier": {verifier},
	}

	status, body, err := o.postForm(ctx, data)
	if err != nil {
		return nil, NewAuthError(KindTokenExchangeFailed, "token exchange request failed", err)
	}
	if status < 200 || status >= 300 {
		return nil, NewAuthError(KindTokenExchangeFailed, strings.TrimSpace(string(body)), nil)
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, NewAuthError(KindTokenExchangeFailed, "failed to parse token response", err)
	}

	accountID, err := AccountIDFromToken(tokenResp.AccessToken)
	if err != nil {
		return nil, err
	}

	return &Credential{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    o.expiresAt(tokenResp.ExpiresIn),
		AccountID:    accountID,
		IDToken:      tokenResp.IDToken,
		Email:        emailFromIDToken(tokenResp.IDToken),
	}, nil
}

// Refresh performs the refresh-token grant. The previous refresh token is kept
// when the server does not rotate it. AccountID is left empty when the new
// access token does not carry one; callers carry the previous value forward.
func (o *CodexAuth) Refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	if refreshToken == "" {
		return nil, NewAuthError(KindRefreshFailed, "refresh token is required", nil)
	}

	data := url.Values{
		"client_id":     {o.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {"openid profile email"},
	}

	status, body, err := o.postForm(ctx, data)
	if err != nil {
		return nil, NewAuthError(KindRefreshFailed, "token refresh request failed", err)
	}
	if status < 200 || status >= 300 {
		return nil, NewAuthError(KindRefreshFailed, fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body))), nil)
	}

	var tokenResp tokenResponse
	if err = json.Unmarshal(body, &tokenResp); err != nil {
		return nil, NewAuthError(KindRefreshFailed, "failed to parse refresh response", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, NewAuthError(KindRefreshFailed, "refresh response carried no access token", nil)
	}

	nextRefresh := tokenResp.RefreshToken
	if nextRefresh == "" {
		nextRefresh = refreshToken
	}

	accountID, errAccount := AccountIDFromToken(tokenResp.AccessToken)
	if errAccount != nil {
		log.Warnf("refreshed access token has no account id: %v", errAccount)
	}

	return &Credential{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: nextRefresh,
		ExpiresAt:    o.expiresAt(tokenResp.ExpiresIn),
		AccountID:    accountID,
		IDToken:      tokenResp.IDToken,
		Email:        emailFromIDToken(tokenResp.IDToken),
	}, nil
}

func (o *CodexAuth) expiresAt(expiresIn int64) int64 {
	return o.now().UnixMilli() + expiresIn*1000
}

func (o *CodexAuth) postForm(ctx context.Context, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read token response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func emailFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims, err := ParseJWTToken(idToken)
	if err != nil {
		log.Debugf("id token not decodable: %v", err)
		return ""
	}
	return claims.Email
}
