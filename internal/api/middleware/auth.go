// Package middleware provides gin middleware for the local API server.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// credentialSource names where a client key was found.
type credentialSource struct {
	value  string
	source string
}

// APIKeyAuth rejects requests that do not present one of the configured keys.
// keys is read per request so reloaded configuration applies immediately. An
// empty key list disables the check.
func APIKeyAuth(keys func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed := normalizeKeys(keys())
		if len(allowed) == 0 {
			c.Next()
			return
		}

		candidates := presentedCredentials(c.Request)
		if len(candidates) == 0 {
			abortUnauthorized(c, "Missing API key")
			return
		}
		for _, candidate := range candidates {
			if matchesAny(candidate.value, allowed) {
				c.Set("apiKeySource", candidate.source)
				c.Next()
				return
			}
		}
		log.Debugf("rejected api key from %s", candidates[0].source)
		abortUnauthorized(c, "Invalid API key")
	}
}

func presentedCredentials(r *http.Request) []credentialSource {
	var out []credentialSource
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		out = append(out, credentialSource{token, "authorization"})
	}
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		out = append(out, credentialSource{key, "x-api-key"})
	}
	if r.URL != nil {
		if key := r.URL.Query().Get("key"); key != "" {
			out = append(out, credentialSource{key, "query-key"})
		}
	}
	return out
}

func matchesAny(value string, allowed []string) bool {
	matched := false
	for _, key := range allowed {
		if subtle.ConstantTimeCompare([]byte(value), []byte(key)) == 1 {
			matched = true
		}
	}
	return matched
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "authentication_error",
			"code":    "invalid_api_key",
		},
	})
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return strings.TrimSpace(header)
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return strings.TrimSpace(header)
	}
	return strings.TrimSpace(parts[1])
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, exists := seen[trimmedKey]; exists {
			continue
		}
		seen[trimmedKey] = struct{}{}
		normalized = append(normalized, trimmedKey)
	}
	return normalized
}
