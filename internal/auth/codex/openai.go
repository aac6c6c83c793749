package codex

import "time"

// PKCECodes holds the verification codes for the OAuth2 PKCE (Proof Key for Code Exchange) flow.
type PKCECodes struct {
	// CodeVerifier is the secret presented at token exchange.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the base64url SHA-256 of the verifier, sent with the authorization request.
	CodeChallenge string `json:"code_challenge"`
}

// AuthorizationRequest is a freshly issued authorization URL with the
// verifier and state that must be kept until the code comes back.
type AuthorizationRequest struct {
	URL      string
	Verifier string
	State    string
}

// Credential is the persisted OAuth credential. It is stored as one JSON blob.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is the absolute access token expiry in epoch milliseconds.
	ExpiresAt int64  `json:"expires_at"`
	AccountID string `json:"account_id"`
	IDToken   string `json:"id_token,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Expiry returns ExpiresAt as a time.Time.
func (c *Credential) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}
