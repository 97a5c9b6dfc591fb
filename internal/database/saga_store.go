package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudretail/saga"
)

// SagaStore persists saga run state in the saga_states table. The full
// state is kept as JSON; name, status and timestamps are also stored in
// columns for listing.
type SagaStore[T any] struct {
	db *DB
}

func NewSagaStore[T any](db *DB) *SagaStore[T] {
	return &SagaStore[T]{db: db}
}

// Create inserts the initial state of a run. A conflicting saga_id leaves
// the stored row untouched and yields saga.ErrRunExists.
func (s *SagaStore[T]) Create(ctx context.Context, sagaID string, state saga.State[T]) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal saga state: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO saga_states (saga_id, saga_name, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (saga_id) DO NOTHING`),
		sagaID, string(state.SagaName), string(state.Status), string(data),
		Millis(state.CreatedAt), Millis(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create saga state %s: %w", sagaID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create saga state %s: %w", sagaID, err)
	}
	if n == 0 {
		return saga.ErrRunExists
	}
	return nil
}

func (s *SagaStore[T]) Save(ctx context.Context, sagaID string, state saga.State[T]) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal saga state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO saga_states (saga_id, saga_name, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (saga_id) DO UPDATE SET
			saga_name = excluded.saga_name,
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at`),
		sagaID, string(state.SagaName), string(state.Status), string(data),
		Millis(state.CreatedAt), Millis(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save saga state %s: %w", sagaID, err)
	}
	return nil
}

func (s *SagaStore[T]) Load(ctx context.Context, sagaID string) (*saga.State[T], error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT state FROM saga_states WHERE saga_id = ?`), sagaID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, saga.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to load saga state %s: %w", sagaID, err)
	}

	var state saga.State[T]
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga state %s: %w", sagaID, err)
	}
	return &state, nil
}

func (s *SagaStore[T]) Delete(ctx context.Context, sagaID string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM saga_states WHERE saga_id = ?`), sagaID); err != nil {
		return fmt.Errorf("failed to delete saga state %s: %w", sagaID, err)
	}
	return nil
}

func (s *SagaStore[T]) List(ctx context.Context) ([]saga.State[T], error) {
	return s.list(ctx, `SELECT state FROM saga_states ORDER BY created_at, saga_id`)
}

// ListByStatus returns the runs currently in status, oldest first.
func (s *SagaStore[T]) ListByStatus(ctx context.Context, status saga.Status) ([]saga.State[T], error) {
	return s.list(ctx, `SELECT state FROM saga_states WHERE status = ? ORDER BY created_at, saga_id`, string(status))
}

func (s *SagaStore[T]) list(ctx context.Context, query string, args ...any) ([]saga.State[T], error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list saga states: %w", err)
	}
	defer rows.Close()

	var states []saga.State[T]
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan saga state: %w", err)
		}
		var state saga.State[T]
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal saga state: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list saga states: %w", err)
	}
	return states, nil
}
