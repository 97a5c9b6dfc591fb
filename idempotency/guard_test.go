package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type placed struct {
	OrderID int64 `json:"order_id"`
	Total   int64 `json:"total"`
}

func TestSameKeyRunsOnce(t *testing.T) {
	g := NewGuard(NewMemoryStore())
	var calls int32

	fn := func(context.Context) (placed, error) {
		n := atomic.AddInt32(&calls, 1)
		return placed{OrderID: int64(n), Total: 2599}, nil
	}

	first, replayed, err := Execute(context.Background(), g, "key-1", fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := Execute(context.Background(), g, "key-1", fn)
	require.NoError(t, err)
	assert.True(t, replayed)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	third, _, err := Execute(context.Background(), g, "key-2", fn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.OrderID)
}

func TestReplayReturnsStoredBytes(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), Record{
		Key:       "key-1",
		Result:    json.RawMessage(`{"order_id":7,"total":100}`),
		CreatedAt: time.Now(),
	}))

	g := NewGuard(store)
	raw, replayed, err := g.Do(context.Background(), "key-1", func(context.Context) (any, error) {
		t.Fatal("operation must not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, `{"order_id":7,"total":100}`, string(raw))
}

func TestFailedOperationIsNotStored(t *testing.T) {
	store := NewMemoryStore()
	g := NewGuard(store)
	boom := errors.New("out of stock")
	calls := 0

	_, _, err := g.Do(context.Background(), "key-1", func(context.Context) (any, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())

	_, replayed, err := g.Do(context.Background(), "key-1", func(context.Context) (any, error) {
		calls++
		return placed{OrderID: 1}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, calls)
}

func TestEmptyKey(t *testing.T) {
	g := NewGuard(NewMemoryStore())
	_, _, err := g.Do(context.Background(), "", func(context.Context) (any, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestConcurrentCallersShareOneExecution(t *testing.T) {
	g := NewGuard(NewMemoryStore())
	var calls int32
	release := make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]placed, callers)
	replays := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			res, replayed, err := Execute(context.Background(), g, "key-1", func(context.Context) (placed, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return placed{OrderID: 42}, nil
			})
			assert.NoError(t, err)
			results[i] = res
			replays[i] = replayed
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	fresh := 0
	for i := range results {
		assert.Equal(t, int64(42), results[i].OrderID)
		if !replays[i] {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*Record, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Put(context.Context, Record) error {
	return errors.New("connection refused")
}

func TestStoreErrorsAreLoggedAndIgnored(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	g := NewGuard(brokenStore{}, WithLogger(zap.New(core)))

	raw, replayed, err := g.Do(context.Background(), "key-1", func(context.Context) (any, error) {
		return placed{OrderID: 3}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.JSONEq(t, `{"order_id":3,"total":0}`, string(raw))

	assert.Equal(t, 1, logs.FilterMessage("idempotency lookup failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to store idempotency result").Len())
}

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore()
	g := NewGuard(store, WithTTL(time.Hour), WithClock(clock))
	calls := 0
	fn := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, _, err := Execute(context.Background(), g, "key-1", fn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	now = now.Add(30 * time.Minute)
	v, replayed, err := Execute(context.Background(), g, "key-1", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Hour)
	v, replayed, err = Execute(context.Background(), g, "key-1", fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 2, v)

	require.NoError(t, store.Put(context.Background(), Record{Key: "old", Result: json.RawMessage(`1`), CreatedAt: now.Add(-3 * time.Hour)}))
	n, err := g.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())
}

func TestNoTTLNeverExpires(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGuard(NewMemoryStore(), WithClock(func() time.Time { return now }))

	_, _, err := g.Do(context.Background(), "k", func(context.Context) (any, error) { return 1, nil })
	require.NoError(t, err)

	now = now.Add(365 * 24 * time.Hour)
	_, replayed, err := g.Do(context.Background(), "k", func(context.Context) (any, error) { return 2, nil })
	require.NoError(t, err)
	assert.True(t, replayed)

	n, err := g.Purge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelledCallerDoesNotWait(t *testing.T) {
	g := NewGuard(NewMemoryStore())
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = g.Do(context.Background(), "slow", func(context.Context) (any, error) {
			close(entered)
			<-release
			return 1, nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := g.Do(ctx, "slow", func(context.Context) (any, error) { return 2, nil })
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
}

func TestLeaderCancellationDoesNotFailFollowers(t *testing.T) {
	g := NewGuard(NewMemoryStore())
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	fn := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return placed{OrderID: 7, Total: 1999}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := g.Do(leaderCtx, "order-7", fn)
		leaderErr <- err
	}()
	<-entered

	type reply struct {
		got      placed
		replayed bool
		err      error
	}
	follower := make(chan reply, 1)
	go func() {
		got, replayed, err := Execute(context.Background(), g, "order-7", func(ctx context.Context) (placed, error) {
			out, err := fn(ctx)
			if err != nil {
				return placed{}, err
			}
			return out.(placed), nil
		})
		follower <- reply{got: got, replayed: replayed, err: err}
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	r := <-follower
	require.NoError(t, r.err)
	assert.True(t, r.replayed)
	assert.Equal(t, placed{OrderID: 7, Total: 1999}, r.got)
	assert.Equal(t, int32(1), calls.Load())
}
