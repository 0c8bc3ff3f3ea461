package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog"
)

// SQLiteConfig holds the configuration for the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. Empty opens a shared in-memory database.
	Path string

	// Merge is the merge strategy. Default: ReplaceMerge.
	Merge MergeFunc
}

// SQLiteCache is a ValueCache persisted in a local SQLite database.
type SQLiteCache struct {
	db         *sql.DB
	writeMutex sync.Mutex
	logger     zerolog.Logger
	merge      MergeFunc
}

// NewSQLiteCache opens (or creates) the database and its cache table.
func NewSQLiteCache(cfg SQLiteConfig, logger zerolog.Logger) (*SQLiteCache, error) {
	path := cfg.Path
	if path == "" {
		path = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite %q: %w", path, err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fetch_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cache: prepare sqlite schema: %w", err)
		}
	}

	merge := cfg.Merge
	if merge == nil {
		merge = ReplaceMerge
	}

	logger.Info().Str("path", path).Msg("SQLite cache initialized.")

	return &SQLiteCache{
		db:     db,
		logger: logger.With().Str("component", "SQLiteCache").Logger(),
		merge:  merge,
	}, nil
}

// Get retrieves a value. Database failures are logged and reported as a miss.
func (s *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM fetch_cache WHERE key = ?", key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error().Err(err).Str("key", key).Msg("Failed to read from SQLite cache.")
		}
		return nil, false
	}
	return value, true
}

// MergeValue merges value into the stored entry inside a transaction.
func (s *SQLiteCache) MergeValue(ctx context.Context, key string, value []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: begin sqlite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing []byte
	err = tx.QueryRowContext(ctx, "SELECT value FROM fetch_cache WHERE key = ?", key).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cache: sqlite read for %s: %w", key, err)
	}

	merged, err := s.merge(existing, value)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO fetch_cache (key, value, updated_at) VALUES (?, ?, ?)",
		key, merged, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite write for %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cache: sqlite commit for %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Msg("Merged value into SQLite cache.")
	return merged, nil
}

// Delete removes a key. Idempotent - no error on miss.
func (s *SQLiteCache) Delete(ctx context.Context, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fetch_cache WHERE key = ?", key); err != nil {
		return fmt.Errorf("cache: sqlite delete for %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

// Ensure SQLiteCache implements ValueCache
var _ ValueCache = (*SQLiteCache)(nil)
