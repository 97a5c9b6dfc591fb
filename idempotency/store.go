// Package idempotency remembers the result of an operation under a
// caller-supplied key so that a retried request returns the first result
// instead of repeating its side effects.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrNotFound is returned by Store.Get for unknown keys.
	ErrNotFound = errors.New("idempotency key not found")

	// ErrEmptyKey is returned by Guard.Do when no key is given.
	ErrEmptyKey = errors.New("idempotency key is empty")
)

// Record is a stored result.
type Record struct {
	Key       string          `json:"key"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store maps keys to previously computed results. Put overwrites an
// existing record for the same key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec Record) error
}

// Purger is implemented by stores that can drop old records.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// MemoryStore is a Store backed by a concurrent map.
type MemoryStore struct {
	records *xsync.MapOf[string, Record]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: xsync.NewMapOf[string, Record]()}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	rec, ok := m.records.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	rec.Result = append(json.RawMessage(nil), rec.Result...)
	return &rec, nil
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	rec.Result = append(json.RawMessage(nil), rec.Result...)
	m.records.Store(rec.Key, rec)
	return nil
}

func (m *MemoryStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	m.records.Range(func(key string, rec Record) bool {
		if rec.CreatedAt.Before(olderThan) {
			m.records.Delete(key)
			n++
		}
		return true
	})
	return n, nil
}

func (m *MemoryStore) Len() int {
	return m.records.Size()
}
