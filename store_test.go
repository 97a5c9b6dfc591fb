package saga

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(id string, created time.Time) State[orderInput] {
	return State[orderInput]{
		SagaID:   id,
		SagaName: "order",
		Status:   StatusCompleted,
		Input:    orderInput{OrderID: "o-" + id, Amount: 2599},
		CompletedSteps: []CompletedStep{
			{Name: "reserve", Output: json.RawMessage(`{"reservation_id":"r-1"}`), StartedAt: created, FinishedAt: created},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func testStore(t *testing.T, store Store[orderInput]) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, store.Save(ctx, "b", sampleState("b", base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, "a", sampleState("a", base)))

	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "o-a", got.Input.OrderID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.Len(t, got.CompletedSteps, 1)
	assert.JSONEq(t, `{"reservation_id":"r-1"}`, string(got.CompletedSteps[0].Output))
	assert.True(t, got.CreatedAt.Equal(base))

	updated := sampleState("a", base)
	updated.Status = StatusCompensated
	updated.CompensatedSteps = []StepName{"reserve"}
	require.NoError(t, store.Save(ctx, "a", updated))

	got, err = store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, got.Status)
	assert.Equal(t, []StepName{"reserve"}, got.CompensatedSteps)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].SagaID)
	assert.Equal(t, "b", all[1].SagaID)

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, store.Create(ctx, "c", sampleState("c", base)))
	clash := sampleState("c", base)
	clash.Status = StatusFailed
	assert.ErrorIs(t, store.Create(ctx, "c", clash), ErrRunExists)
	got, err = store.Load(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore[orderInput]())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore[orderInput]()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "a", sampleState("a", time.Now())))

	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	got.CompletedSteps[0].Name = "mutated"

	again, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StepName("reserve"), again.CompletedSteps[0].Name)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore[orderInput](filepath.Join(t.TempDir(), "sagas"))
	require.NoError(t, err)
	testStore(t, store)
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	store, err := NewFileStore[orderInput](t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../escape", `a\b`} {
		assert.Error(t, store.Save(context.Background(), id, sampleState("x", time.Now())), id)
	}
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore[orderInput](dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"status":"DONE"}`), 0o644))
	_, err = store.Load(context.Background(), "bad")
	assert.ErrorContains(t, err, "invalid saga status")
}

func TestFileStoreBacksRollback(t *testing.T) {
	store, err := NewFileStore[orderInput](t.TempDir())
	require.NoError(t, err)

	tr := &trace{}
	steps := []Step[orderInput]{tracedStep(tr, "reserve", nil, nil), tracedStep(tr, "create", nil, nil)}
	o, err := New("order", steps, store)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-9"})
	require.NoError(t, res.Err)

	rb := o.Rollback(context.Background(), res.SagaID)
	require.NoError(t, rb.Err)
	assert.Equal(t, []string{"do:reserve", "do:create", "undo:create", "undo:reserve"}, tr.list())
}
