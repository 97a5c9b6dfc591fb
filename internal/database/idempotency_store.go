package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudretail/saga/idempotency"
)

// IdempotencyStore keeps idempotency records in the idempotency_keys table.
type IdempotencyStore struct {
	db *DB
}

func NewIdempotencyStore(db *DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		result    string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT result, created_at FROM idempotency_keys WHERE key_value = ?`), key,
	).Scan(&result, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idempotency.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	return &idempotency.Record{
		Key:       key,
		Result:    []byte(result),
		CreatedAt: FromMillis(createdAt),
	}, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, rec idempotency.Record) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO idempotency_keys (key_value, result, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key_value) DO UPDATE SET
			result = excluded.result,
			created_at = excluded.created_at`),
		rec.Key, string(rec.Result), Millis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM idempotency_keys WHERE created_at < ?`), Millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
