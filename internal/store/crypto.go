package store

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealedMagic prefixes encrypted secret files.
var sealedMagic = []byte("CBX1")

const saltSize = 16

// errSealedWithoutKey is returned when an encrypted file is read without secret-key.
var errSealedWithoutKey = errors.New("store: secret file is encrypted but no secret-key is configured")

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

// seal encrypts plaintext with XChaCha20-Poly1305 under a key derived from secret.
// Layout: magic | salt | nonce | ciphertext.
func seal(secret string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("store: generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("store: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("store: generate nonce: %w", err)
	}
	out := make([]byte, 0, len(sealedMagic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealedMagic), nil
}

// isSealed reports whether data carries the encrypted file header.
func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedMagic)
}

// open reverses seal.
func open(secret string, data []byte) ([]byte, error) {
	if !isSealed(data) {
		return nil, fmt.Errorf("store: not an encrypted secret file")
	}
	if secret == "" {
		return nil, errSealedWithoutKey
	}
	rest := data[len(sealedMagic):]
	if len(rest) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("store: encrypted secret file truncated")
	}
	salt := rest[:saltSize]
	nonce := rest[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := rest[saltSize+chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("store: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt secret file: %w", err)
	}
	return plaintext, nil
}
