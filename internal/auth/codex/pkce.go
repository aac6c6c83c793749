// Package codex implements the ChatGPT subscription OAuth flow used by the
// Codex CLI: PKCE generation, the authorization URL, code and refresh-token
// exchanges, access token payload decoding, and the local callback server.
package codex

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/oauth2"
)

const (
	verifierLength = 64
	stateLength    = 32
)

// unreservedAlphabet is the RFC 3986 unreserved character set (66 symbols).
const unreservedAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// GeneratePKCECodes returns a 64-character verifier and its S256 challenge.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := randomString(verifierLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: GenerateCodeChallenge(codeVerifier),
	}, nil
}

// GenerateCodeChallenge is base64url(sha256(verifier)) without padding.
func GenerateCodeChallenge(codeVerifier string) string {
	return oauth2.S256ChallengeFromVerifier(codeVerifier)
}

// GenerateState returns a 32-character random state value.
func GenerateState() (string, error) {
	state, err := randomString(stateLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

// randomString draws n symbols uniformly from unreservedAlphabet using crypto/rand.
func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(unreservedAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		out[i] = unreservedAlphabet[idx.Int64()]
	}
	return string(out), nil
}
