package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

// Backend names reported by Open.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendObject   = "object"
	BackendGit      = "git"
)

type envLookup func(keys ...string) (string, bool)

func osLookup(keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// Open selects the secret backend. Postgres wins when PGSTORE_DSN is set,
// then object storage, then git; otherwise secrets go to a file in the
// auth directory.
func Open(ctx context.Context, cfg *config.Config) (SecretStore, string, error) {
	return openWith(ctx, cfg, osLookup)
}

func openWith(ctx context.Context, cfg *config.Config, lookupEnv envLookup) (SecretStore, string, error) {
	if dsn, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		schema, _ := lookupEnv("PGSTORE_SCHEMA", "pgstore_schema")
		s, err := NewPostgresStore(ctx, PostgresStoreConfig{DSN: dsn, Schema: schema})
		if err != nil {
			return nil, "", err
		}
		return s, BackendPostgres, nil
	}

	if endpoint, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		host, useSSL, err := ParseObjectEndpoint(endpoint)
		if err != nil {
			return nil, "", err
		}
		accessKey, _ := lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key")
		secretKey, _ := lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key")
		bucket, _ := lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket")
		prefix, _ := lookupEnv("OBJECTSTORE_PREFIX", "objectstore_prefix")
		s, err := NewObjectStore(ctx, ObjectStoreConfig{
			Endpoint:  host,
			Bucket:    bucket,
			AccessKey: accessKey,
			SecretKey: secretKey,
			Prefix:    prefix,
			UseSSL:    useSSL,
			PathStyle: true,
		})
		if err != nil {
			return nil, "", err
		}
		return s, BackendObject, nil
	}

	if remote, ok := lookupEnv("GITSTORE_GIT_URL", "gitstore_git_url"); ok {
		username, _ := lookupEnv("GITSTORE_GIT_USERNAME", "gitstore_git_username")
		token, _ := lookupEnv("GITSTORE_GIT_TOKEN", "gitstore_git_token")
		localPath, ok := lookupEnv("GITSTORE_LOCAL_PATH", "gitstore_local_path")
		if !ok {
			base := util.WritablePath()
			if base == "" {
				wd, err := os.Getwd()
				if err != nil {
					return nil, "", fmt.Errorf("git store: resolve working directory: %w", err)
				}
				base = wd
			}
			localPath = filepath.Join(base, "gitstore")
		}
		s, err := NewGitStore(GitStoreConfig{
			Remote:    remote,
			Username:  username,
			Password:  token,
			LocalPath: localPath,
		})
		if err != nil {
			return nil, "", err
		}
		return s, BackendGit, nil
	}

	dir, err := util.ResolveAuthDir(cfg.AuthDir)
	if err != nil {
		return nil, "", err
	}
	s, err := NewFileStore(dir, cfg.SecretKey)
	if err != nil {
		return nil, "", err
	}
	if cfg.SecretKey == "" {
		log.Debugf("secrets stored unencrypted at %s", s.Path())
	}
	return s, BackendFile, nil
}

// ParseObjectEndpoint accepts a bare host[:port] or an http(s) URL and
// returns the host form minio expects plus whether TLS is used.
func ParseObjectEndpoint(endpoint string) (string, bool, error) {
	resolved := strings.TrimSpace(endpoint)
	useSSL := true
	if strings.Contains(resolved, "://") {
		parsed, err := url.Parse(resolved)
		if err != nil {
			return "", false, fmt.Errorf("object store: parse endpoint %q: %w", endpoint, err)
		}
		switch strings.ToLower(parsed.Scheme) {
		case "http":
			useSSL = false
		case "https":
		default:
			return "", false, fmt.Errorf("object store: unsupported scheme %q (only http and https are allowed)", parsed.Scheme)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("object store: endpoint %q is missing host information", endpoint)
		}
		resolved = parsed.Host
		if parsed.Path != "" && parsed.Path != "/" {
			resolved = strings.TrimSuffix(parsed.Host+parsed.Path, "/")
		}
	}
	return strings.TrimRight(resolved, "/"), useSSL, nil
}
