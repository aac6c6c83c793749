package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultSecretTable = "secret_store"

// PostgresStoreConfig selects the database and table holding secrets.
type PostgresStoreConfig struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresStore keeps each secret as one row keyed by its store key, so
// several bridge instances can share a login.
type PostgresStore struct {
	db      *sql.DB
	cfg     PostgresStoreConfig
	queries secretQueries
}

type secretQueries struct {
	get    string
	upsert string
	delete string
}

// NewPostgresStore connects to PostgreSQL and creates the table when missing.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Schema = strings.TrimSpace(cfg.Schema)
	cfg.Table = strings.TrimSpace(cfg.Table)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	if cfg.Table == "" {
		cfg.Table = defaultSecretTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}

	s := &PostgresStore{db: db, cfg: cfg, queries: buildSecretQueries(qualifiedTable(cfg.Schema, cfg.Table))}
	if err = s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func buildSecretQueries(table string) secretQueries {
	return secretQueries{
		get: "SELECT value FROM " + table + " WHERE key = $1",
		upsert: "INSERT INTO " + table + " (key, value, updated_at) VALUES ($1, $2, NOW()) " +
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()",
		delete: "DELETE FROM " + table + " WHERE key = $1",
	}
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the schema (when configured) and the secret table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.cfg.Schema != "" {
		if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdentifier(s.cfg.Schema)); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	ddl := "CREATE TABLE IF NOT EXISTS " + qualifiedTable(s.cfg.Schema, s.cfg.Table) + ` (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("postgres store: create secret table: %w", err)
	}
	return nil
}

// Get loads the row for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.queries.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres store: load %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the row for key.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.upsert, key, value); err != nil {
		return fmt.Errorf("postgres store: upsert %s: %w", key, err)
	}
	return nil
}

// Delete removes the row for key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.queries.delete, key); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", key, err)
	}
	return nil
}

func qualifiedTable(schema, table string) string {
	if schema == "" {
		return quoteIdentifier(table)
	}
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
