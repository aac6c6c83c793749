// Package store provides the secret storage backends that hold the OAuth
// credential and the pending authorization. Every backend is a flat
// string key-value store; values are opaque to the store.
package store

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// SecretStore is the secret storage capability consumed by the token store.
type SecretStore interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Closer is implemented by backends that hold connections.
type Closer interface {
	Close() error
}

// validateKey rejects keys that could escape a directory or object prefix.
func validateKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("store: empty key")
	}
	if strings.ContainsAny(trimmed, `/\`) || trimmed != path.Clean(trimmed) || trimmed == ".." || strings.HasPrefix(trimmed, ".") {
		return "", fmt.Errorf("store: invalid key %q", key)
	}
	return trimmed, nil
}
