package codex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// accountClaim is the namespaced claim carrying ChatGPT account details.
const accountClaim = "https://api.openai.com/auth"

// JWTClaims holds the payload fields the bridge reads.
type JWTClaims struct {
	Email         string        `json:"email"`
	Exp           int64         `json:"exp"`
	Sub           string        `json:"sub"`
	CodexAuthInfo CodexAuthInfo `json:"https://api.openai.com/auth"`
}

// CodexAuthInfo contains the ChatGPT account fields of the namespaced claim.
type CodexAuthInfo struct {
	ChatgptAccountID string `json:"chatgpt_account_id"`
	ChatgptPlanType  string `json:"chatgpt_plan_type"`
	ChatgptUserID    string `json:"chatgpt_user_id"`
}

// ParseJWTToken decodes the payload segment of a JWT WITHOUT verifying its
// signature. It must only be used on tokens received directly from the token
// endpoint over TLS; that direct receipt is what makes them trusted.
func ParseJWTToken(token string) (*JWTClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, NewAuthError(KindMalformedToken, fmt.Sprintf("expected 3 segments, got %d", len(parts)), nil)
	}

	claimsData, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, NewAuthError(KindMalformedToken, "failed to decode JWT payload", err)
	}

	var claims JWTClaims
	if err = json.Unmarshal(claimsData, &claims); err != nil {
		return nil, NewAuthError(KindMalformedToken, "failed to unmarshal JWT payload", err)
	}

	return &claims, nil
}

// AccountIDFromToken returns the ChatGPT account id of an access token,
// falling back to the subject claim.
func AccountIDFromToken(accessToken string) (string, error) {
	claims, err := ParseJWTToken(accessToken)
	if err != nil {
		return "", err
	}
	if id := claims.GetAccountID(); id != "" {
		return id, nil
	}
	if claims.Sub != "" {
		return claims.Sub, nil
	}
	return "", NewAuthError(KindAccountIDMissing, fmt.Sprintf("neither %s.chatgpt_account_id nor sub present", accountClaim), nil)
}

// base64URLDecode restores the padding JWTs omit and decodes the URL-safe alphabet.
func base64URLDecode(data string) ([]byte, error) {
	switch len(data) % 4 {
	case 2:
		data += "=="
	case 3:
		data += "="
	}

	return base64.URLEncoding.DecodeString(data)
}

// GetAccountID returns the ChatGPT account id from the namespaced claim.
func (c *JWTClaims) GetAccountID() string {
	return c.CodexAuthInfo.ChatgptAccountID
}
