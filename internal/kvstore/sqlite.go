package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai-diet-planner/internal/kvstore/kvdb"
)

// SQLiteStore persists entries in the kv_entries table. Expired rows are
// invisible to Get and physically removed by Sweep.
type SQLiteStore struct {
	queries *kvdb.Queries
	db      *sql.DB
	now     func() time.Time
	logger  *slog.Logger
}

// NewSQLiteStore wraps an already migrated database connection. The store
// does not own the connection.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		queries: kvdb.New(db),
		db:      db,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.queries.GetEntry(ctx, kvdb.GetEntryParams{
		Key:       key,
		ExpiresAt: sql.NullInt64{Int64: s.now().UnixMilli(), Valid: true},
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}
	err := s.queries.UpsertEntry(ctx, kvdb.UpsertEntryParams{
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.queries.DeleteEntry(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	n, err := s.queries.DeleteExpiredEntries(ctx, sql.NullInt64{Int64: s.now().UnixMilli(), Valid: true})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", err)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *SQLiteStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn("kv sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("kv sweep removed expired entries", "count", n)
			}
		}
	}
}

// Close is a no-op; the connection belongs to database.DB.
func (s *SQLiteStore) Close() error { return nil }
