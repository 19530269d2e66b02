package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/mattn/go-sqlite3"

	"pulsehub/storage"
)

// KVRepository implements storage.Store on top of the kv_entries table.
type KVRepository struct {
	conn *sql.DB
}

// NewKVRepository creates a repository over an open connection.
func NewKVRepository(conn *sql.DB) *KVRepository {
	return &KVRepository{conn: conn}
}

var _ storage.Store = (*KVRepository)(nil)

// Get returns the value stored under key, or storage.ErrKeyNotFound.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.conn.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	err := r.writeWithRetry(ctx, func() error {
		_, err := r.conn.ExecContext(ctx,
			`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes the value stored under key. Missing keys are a no-op.
func (r *KVRepository) Remove(ctx context.Context, key string) error {
	err := r.writeWithRetry(ctx, func() error {
		_, err := r.conn.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// Clear deletes every stored entry.
func (r *KVRepository) Clear(ctx context.Context) error {
	err := r.writeWithRetry(ctx, func() error {
		_, err := r.conn.ExecContext(ctx, `DELETE FROM kv_entries`)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// writeWithRetry retries writes that hit a transiently locked database.
// Anything else fails immediately and surfaces to the caller.
func (r *KVRepository) writeWithRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransientlyLocked),
	)
}

func isTransientlyLocked(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
}
