package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
)

// gcInterval defines minimum time between garbage collection runs.
const gcInterval = 5 * time.Minute

const gitSecretDir = "secrets"

// GitStoreConfig captures configuration for the git-backed secret store.
type GitStoreConfig struct {
	Remote   string
	Username string
	Password string
	// LocalPath is the working copy. It is cloned on first use.
	LocalPath string
}

// GitStore keeps each secret as a file under secrets/ in a git working copy
// and pushes every change to the remote as a single squashed commit.
type GitStore struct {
	mu      sync.Mutex
	cfg     GitStoreConfig
	repoDir string
	lastGC  time.Time
}

// NewGitStore prepares the working copy, cloning or initializing it as needed.
func NewGitStore(cfg GitStoreConfig) (*GitStore, error) {
	cfg.Remote = strings.TrimSpace(cfg.Remote)
	if cfg.Remote == "" {
		return nil, fmt.Errorf("git store: remote not configured")
	}
	if strings.TrimSpace(cfg.LocalPath) == "" {
		return nil, fmt.Errorf("git store: local path not configured")
	}
	repoDir, err := filepath.Abs(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("git store: resolve local path: %w", err)
	}
	s := &GitStore{cfg: cfg, repoDir: repoDir}
	if err = s.ensureRepository(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GitStore) ensureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secretDir := filepath.Join(s.repoDir, gitSecretDir)
	gitDir := filepath.Join(s.repoDir, ".git")
	authMethod := s.gitAuth()
	initialize := false
	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if errMk := os.MkdirAll(s.repoDir, 0o700); errMk != nil {
			return fmt.Errorf("git store: create repo dir: %w", errMk)
		}
		if _, errClone := git.PlainClone(s.repoDir, &git.CloneOptions{Auth: authMethod, URL: s.cfg.Remote}); errClone != nil {
			if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
				return fmt.Errorf("git store: clone remote: %w", errClone)
			}
			_ = os.RemoveAll(gitDir)
			repo, errInit := git.PlainInit(s.repoDir, false)
			if errInit != nil {
				return fmt.Errorf("git store: init empty repo: %w", errInit)
			}
			if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
				Name: "origin",
				URLs: []string{s.cfg.Remote},
			}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
				return fmt.Errorf("git store: configure remote: %w", errCreate)
			}
			initialize = true
		}
	} else if err != nil {
		return fmt.Errorf("git store: stat repo: %w", err)
	} else {
		repo, errOpen := git.PlainOpen(s.repoDir)
		if errOpen != nil {
			return fmt.Errorf("git store: open repo: %w", errOpen)
		}
		worktree, errWorktree := repo.Worktree()
		if errWorktree != nil {
			return fmt.Errorf("git store: worktree: %w", errWorktree)
		}
		if errPull := worktree.Pull(&git.PullOptions{Auth: authMethod, RemoteName: "origin"}); errPull != nil {
			switch {
			case errors.Is(errPull, git.NoErrAlreadyUpToDate),
				errors.Is(errPull, git.ErrUnstagedChanges),
				errors.Is(errPull, git.ErrNonFastForwardUpdate):
				// local copy wins
			case errors.Is(errPull, transport.ErrAuthenticationRequired),
				errors.Is(errPull, plumbing.ErrReferenceNotFound),
				errors.Is(errPull, transport.ErrEmptyRemoteRepository):
			default:
				return fmt.Errorf("git store: pull: %w", errPull)
			}
		}
	}
	if err := os.MkdirAll(secretDir, 0o700); err != nil {
		return fmt.Errorf("git store: create secret dir: %w", err)
	}
	if initialize {
		keep := filepath.Join(secretDir, ".gitkeep")
		if err := os.WriteFile(keep, nil, 0o600); err != nil {
			return fmt.Errorf("git store: create placeholder: %w", err)
		}
		return s.commitAndPushLocked("Initialize secret store", filepath.Join(gitSecretDir, ".gitkeep"))
	}
	return nil
}

// Get reads the secret file for key from the local clone.
func (s *GitStore) Get(_ context.Context, key string) (string, bool, error) {
	clean, err := validateKey(key)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.repoDir, gitSecretDir, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("git store: read %s: %w", clean, err)
	}
	return string(data), true, nil
}

// Set writes the secret file for key, then commits and pushes it.
func (s *GitStore) Set(_ context.Context, key, value string) error {
	clean, err := validateKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.repoDir, gitSecretDir, clean)
	if existing, errRead := os.ReadFile(path); errRead == nil && string(existing) == value {
		return nil
	}
	if err = os.WriteFile(path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("git store: write %s: %w", clean, err)
	}
	return s.commitAndPushLocked("Update "+clean, filepath.Join(gitSecretDir, clean))
}

// Delete removes the secret file for key and pushes the removal.
func (s *GitStore) Delete(_ context.Context, key string) error {
	clean, err := validateKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.repoDir, gitSecretDir, clean)
	if err = os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("git store: delete %s: %w", clean, err)
	}
	return s.commitAndPushLocked("Delete "+clean, filepath.Join(gitSecretDir, clean))
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return nil
	}
	user := s.cfg.Username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.cfg.Password}
}

func (s *GitStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		if _, err = worktree.Add(rel); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(rel); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git store: remove %s: %w", rel, errRemove)
			}
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "CodexBridge",
		Email: "codexbridge@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git store: get head: %w", errHead)
		}
	} else if errSquash := squashHead(repo, headRef.Name(), commitHash, message, signature); errSquash != nil {
		return errSquash
	}
	s.maybeRunGC(repo)
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git store: push: %w", err)
	}
	return nil
}

// squashHead replaces the branch tip with a parentless copy of commitHash so
// old secret values do not accumulate in history.
func squashHead(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err = squashed.Encode(mem); err != nil {
		return fmt.Errorf("git store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git store: write squashed commit: %w", err)
	}
	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git store: update branch reference: %w", err)
	}
	return nil
}

func (s *GitStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now
	pruneOpts := git.PruneOptions{
		OnlyObjectsOlderThan: now,
		Handler:              repo.DeleteObject,
	}
	if err := repo.Prune(pruneOpts); err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}
