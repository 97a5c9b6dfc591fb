package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Guard runs operations at most once per key.
type Guard struct {
	store  Store
	group  singleflight.Group
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Guard)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTTL makes records older than ttl count as misses. Zero keeps records
// forever.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type outcome struct {
	result   json.RawMessage
	replayed bool
}

// Do returns the stored result for key if there is one. Otherwise it runs
// fn, stores its JSON encoded result and returns it. Callers that arrive
// while fn is running for the same key wait for it and share its result.
// A failed fn stores nothing, so the operation can be retried.
//
// fn runs detached from the cancellation of the caller that started it,
// since other callers may be waiting on the same execution. A caller whose
// ctx ends stops waiting and gets ctx.Err().
//
// replayed reports whether the result came from an earlier execution.
func (g *Guard) Do(
	ctx context.Context,
	key string,
	fn func(ctx context.Context) (any, error),
) (result json.RawMessage, replayed bool, err error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	executed := false
	ch := g.group.DoChan(key, func() (any, error) {
		executed = true
		return g.do(context.WithoutCancel(ctx), key, fn)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		o := res.Val.(outcome)
		return append(json.RawMessage(nil), o.result...), o.replayed || !executed, nil
	}
}

func (g *Guard) do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (outcome, error) {
	if rec, ok := g.lookup(ctx, key); ok {
		g.logger.Debug("idempotency hit", zap.String("key", key))
		return outcome{result: rec.Result, replayed: true}, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return outcome{}, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return outcome{}, fmt.Errorf("encode result for key %s: %w", key, err)
	}

	rec := Record{Key: key, Result: data, CreatedAt: g.now()}
	if err := g.store.Put(ctx, rec); err != nil {
		g.logger.Error("failed to store idempotency result", zap.String("key", key), zap.Error(err))
	}

	return outcome{result: data}, nil
}

// lookup treats store errors and expired records as misses.
func (g *Guard) lookup(ctx context.Context, key string) (*Record, bool) {
	rec, err := g.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			g.logger.Error("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	if g.ttl > 0 && g.now().Sub(rec.CreatedAt) > g.ttl {
		g.logger.Debug("idempotency record expired", zap.String("key", key), zap.Time("created_at", rec.CreatedAt))
		return nil, false
	}

	return rec, true
}

// Purge removes records older than the TTL from stores that support it.
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	p, ok := g.store.(Purger)
	if !ok || g.ttl == 0 {
		return 0, nil
	}
	return p.Purge(ctx, g.now().Add(-g.ttl))
}

// Execute is Do for a typed result.
func Execute[R any](
	ctx context.Context,
	g *Guard,
	key string,
	fn func(ctx context.Context) (R, error),
) (R, bool, error) {
	var out R
	raw, replayed, err := g.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, replayed, fmt.Errorf("decode result for key %s: %w", key, err)
	}
	return out, replayed, nil
}
