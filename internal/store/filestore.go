package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// DefaultSecretFileName is the file FileStore writes inside the auth directory.
const DefaultSecretFileName = "secrets.json"

const lockRetryDelay = 50 * time.Millisecond

// FileStore persists secrets as a JSON object in a single 0600 file. An
// adjacent lock file serializes access across processes. When a secret key
// is configured the file is encrypted at rest.
type FileStore struct {
	mu        sync.Mutex
	path      string
	lock      *flock.Flock
	secretKey string
}

// NewFileStore creates a FileStore writing to dir/secrets.json.
func NewFileStore(dir, secretKey string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}
	path := filepath.Join(dir, DefaultSecretFileName)
	return &FileStore{
		path:      path,
		lock:      flock.New(path + ".lock"),
		secretKey: secretKey,
	}, nil
}

// Path returns the secret file location.
func (s *FileStore) Path() string { return s.path }

// Get reads key from the secret file under a shared file lock.
func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", false, fmt.Errorf("file store: acquire read lock: %w", err)
	}
	if locked {
		defer func() { _ = s.lock.Unlock() }()
	}

	values, err := s.readLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Set writes key to the secret file. An unchanged value leaves the file untouched.
func (s *FileStore) Set(ctx context.Context, key, value string) error {
	return s.update(ctx, func(values map[string]string) bool {
		if prev, ok := values[key]; ok && prev == value {
			return false
		}
		values[key] = value
		return true
	})
}

// Delete removes key from the secret file when present.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(values map[string]string) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

func (s *FileStore) update(ctx context.Context, mutate func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("file store: acquire lock: %w", err)
	}
	if locked {
		defer func() { _ = s.lock.Unlock() }()
	}

	values, err := s.readLocked()
	if err != nil {
		return err
	}
	if !mutate(values) {
		return nil
	}
	return s.writeLocked(values)
}

func (s *FileStore) readLocked() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("file store: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if isSealed(data) {
		if data, err = open(s.secretKey, data); err != nil {
			return nil, err
		}
	} else if s.secretKey != "" {
		log.Debug("file store: plaintext secret file found, it will be encrypted on next write")
	}
	if err = json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("file store: parse %s: %w", s.path, err)
	}
	return values, nil
}

func (s *FileStore) writeLocked(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal: %w", err)
	}
	if s.secretKey != "" {
		if data, err = seal(s.secretKey, data); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".secrets-*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: chmod temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: write temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("file store: close temp file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("file store: replace %s: %w", s.path, err)
	}
	return nil
}
