package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type orderInput struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

type reservation struct {
	ReservationID string `json:"reservation_id"`
}

// trace records action and compensation calls in the order they happen.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (tr *trace) add(call string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, call)
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.calls...)
}

func tracedStep(tr *trace, name StepName, doErr, compErr error) Step[orderInput] {
	return NewStep(name,
		func(ctx context.Context, sc *Context[orderInput]) (string, error) {
			tr.add("do:" + string(name))
			if doErr != nil {
				return "", doErr
			}
			return string(name) + "-" + sc.Input.OrderID, nil
		},
		func(ctx context.Context, sc *Context[orderInput]) error {
			tr.add("undo:" + string(name))
			return compErr
		},
	)
}

func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	tr := &trace{}
	store := NewMemoryStore[orderInput]()
	var events []Event

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		tracedStep(tr, "create", nil, nil),
		tracedStep(tr, "commit", nil, nil),
	}, store,
		WithClock(fixedClock()),
		WithPublisher(PublisherFunc(func(_ context.Context, ev Event) error {
			events = append(events, ev)
			return nil
		})),
	)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-1", Amount: 1500})

	require.NoError(t, res.Err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotEmpty(t, res.SagaID)
	assert.Empty(t, res.FailedStep)
	assert.Empty(t, res.CompensationErrors)
	assert.Equal(t, []string{"do:reserve", "do:create", "do:commit"}, tr.list())
	assert.Equal(t, []StepName{"reserve", "create", "commit"}, res.Executed())
	assert.Empty(t, res.Compensated())
	assert.Equal(t, 3, res.Context.Len())

	out, ok := Lookup[string](res.Context, "create")
	require.True(t, ok)
	assert.Equal(t, "create-o-1", out)

	state, err := store.Load(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Len(t, state.CompletedSteps, 3)
	assert.Equal(t, "o-1", state.Input.OrderID)
	assert.JSONEq(t, `"commit-o-1"`, string(state.CompletedSteps[2].Output))

	require.Len(t, events, 1)
	assert.Equal(t, EventCompleted, events[0].Type)
	assert.Equal(t, res.SagaID, events[0].SagaID)
	assert.Equal(t, "reserve-o-1", events[0].Results["reserve"])
}

func TestExecuteCompensatesInReverseOrder(t *testing.T) {
	tr := &trace{}
	boom := errors.New("card declined")
	var events []EventType

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		tracedStep(tr, "create", nil, nil),
		tracedStep(tr, "pay", boom, nil),
		tracedStep(tr, "commit", nil, nil),
	}, nil, WithPublisher(PublisherFunc(func(_ context.Context, ev Event) error {
		events = append(events, ev.Type)
		return nil
	})))
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-2"})

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, boom)
	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, StepName("pay"), stepErr.Step)
	assert.Contains(t, res.Err.Error(), "failed at step pay")

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepName("pay"), res.FailedStep)
	assert.Equal(t, []string{
		"do:reserve", "do:create", "do:pay",
		"undo:create", "undo:reserve",
	}, tr.list())
	assert.Equal(t, []StepName{"create", "reserve"}, res.Compensated())
	assert.Equal(t, []EventType{EventCompensated, EventFailed}, events)
}

func TestExecuteFirstStepFailsRunsNoCompensation(t *testing.T) {
	tr := &trace{}
	store := NewMemoryStore[orderInput]()

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", errors.New("out of stock"), nil),
		tracedStep(tr, "create", nil, nil),
	}, store)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-3"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepName("reserve"), res.FailedStep)
	assert.Equal(t, []string{"do:reserve"}, tr.list())
	assert.Empty(t, res.Compensated())

	state, err := store.Load(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Empty(t, state.CompletedSteps)
	assert.Contains(t, state.Error, "out of stock")
}

func TestCompensationErrorsDoNotStopUnwinding(t *testing.T) {
	tr := &trace{}
	undoErr := errors.New("inventory service unavailable")

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		tracedStep(tr, "create", nil, undoErr),
		tracedStep(tr, "pay", errors.New("declined"), nil),
	}, nil)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-4"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"do:reserve", "do:create", "do:pay", "undo:create", "undo:reserve"}, tr.list())
	require.Len(t, res.CompensationErrors, 1)
	var compErr *CompensationError
	require.ErrorAs(t, res.CompensationErrors[0], &compErr)
	assert.Equal(t, StepName("create"), compErr.Step)
	assert.ErrorIs(t, res.CompensationErrors[0], undoErr)
	assert.ErrorContains(t, res.Err, "declined")
}

func TestStepPanicIsReportedAsFailure(t *testing.T) {
	tr := &trace{}
	panicky := NewStep[orderInput, int]("panicky",
		func(context.Context, *Context[orderInput]) (int, error) {
			panic("nil map")
		}, nil)

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		panicky,
	}, nil)
	require.NoError(t, err)

	var res Result[orderInput]
	require.NotPanics(t, func() {
		res = o.Execute(context.Background(), orderInput{OrderID: "o-5"})
	})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepName("panicky"), res.FailedStep)
	assert.ErrorContains(t, res.Err, "panicked: nil map")
	assert.Equal(t, []string{"do:reserve", "undo:reserve"}, tr.list())
}

func TestCompensationPanicIsCollected(t *testing.T) {
	tr := &trace{}
	bad := NewStep[orderInput, int]("bad",
		func(context.Context, *Context[orderInput]) (int, error) { return 1, nil },
		func(context.Context, *Context[orderInput]) error { panic(errors.New("closed connection")) },
	)

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		bad,
		tracedStep(tr, "pay", errors.New("declined"), nil),
	}, nil)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{})

	require.Len(t, res.CompensationErrors, 1)
	assert.ErrorContains(t, res.CompensationErrors[0], "closed connection")
	assert.Equal(t, []string{"do:reserve", "do:pay", "undo:reserve"}, tr.list())
}

func TestCancelledContextFailsNextStepAndStillCompensates(t *testing.T) {
	tr := &trace{}
	ctx, cancel := context.WithCancel(context.Background())

	cancelling := NewStep("cancelling",
		func(context.Context, *Context[orderInput]) (string, error) {
			tr.add("do:cancelling")
			cancel()
			return "ok", nil
		},
		func(ctx context.Context, _ *Context[orderInput]) error {
			tr.add("undo:cancelling")
			return ctx.Err()
		},
	)

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		cancelling,
		tracedStep(tr, "commit", nil, nil),
	}, nil)
	require.NoError(t, err)

	res := o.Execute(ctx, orderInput{})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepName("commit"), res.FailedStep)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{"do:reserve", "do:cancelling", "undo:cancelling", "undo:reserve"}, tr.list())
	assert.Empty(t, res.CompensationErrors)
}

func TestStepsReadEarlierOutputs(t *testing.T) {
	reserve := NewStep("reserve",
		func(_ context.Context, sc *Context[orderInput]) (reservation, error) {
			return reservation{ReservationID: "r-" + sc.Input.OrderID}, nil
		}, nil)

	var seen string
	create := NewStep("create",
		func(_ context.Context, sc *Context[orderInput]) (string, error) {
			r, err := MustLookup[reservation](sc, "reserve")
			if err != nil {
				return "", err
			}
			seen = r.ReservationID
			_, ok := Lookup[reservation](sc, "create")
			if ok {
				return "", errors.New("own output visible before success")
			}
			return "order-1", nil
		}, nil)

	o, err := New("order", []Step[orderInput]{reserve, create}, nil)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-6"})
	require.NoError(t, res.Err)
	assert.Equal(t, "r-o-6", seen)
}

func TestUnserializableOutputFailsStep(t *testing.T) {
	tr := &trace{}
	bad := NewStep[orderInput, chan int]("bad",
		func(context.Context, *Context[orderInput]) (chan int, error) {
			return make(chan int), nil
		}, nil)

	o, err := New("order", []Step[orderInput]{tracedStep(tr, "reserve", nil, nil), bad}, nil)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{})
	assert.ErrorIs(t, res.Err, ErrSerialize)
	assert.Equal(t, []string{"do:reserve", "undo:reserve"}, tr.list())
}

func TestMissingCompensationIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	noUndo := NewStep[orderInput, string]("notify",
		func(context.Context, *Context[orderInput]) (string, error) { return "sent", nil }, nil)
	failing := NewStep[orderInput, string]("fail",
		func(context.Context, *Context[orderInput]) (string, error) { return "", errors.New("nope") }, nil)

	o, err := New("order", []Step[orderInput]{noUndo, failing}, nil, WithLogger(zap.New(core)))
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []StepName{"notify"}, res.Compensated())

	entries := logs.FilterMessage("no compensation defined for step").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "notify", entries[0].ContextMap()["step"])
}

type failingStore[T any] struct {
	*MemoryStore[T]
}

func (failingStore[T]) Save(context.Context, string, State[T]) error {
	return errors.New("disk full")
}

type unavailableStore[T any] struct {
	*MemoryStore[T]
}

func (unavailableStore[T]) Create(context.Context, string, State[T]) error {
	return errors.New("connection refused")
}

func TestExecuteRefusesWhenRunCannotBeCreated(t *testing.T) {
	tr := &trace{}
	o, err := New("order", []Step[orderInput]{tracedStep(tr, "reserve", nil, nil)},
		unavailableStore[orderInput]{NewMemoryStore[orderInput]()})
	require.NoError(t, err)

	res := o.ExecuteWithID(context.Background(), "saga-1", orderInput{})
	assert.ErrorContains(t, res.Err, "connection refused")
	assert.NotErrorIs(t, res.Err, ErrRunExists)
	assert.Equal(t, StatusPending, res.Status)
	assert.Empty(t, tr.list())
}

func TestStoreAndPublisherErrorsDoNotChangeOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := &trace{}

	o, err := New("order", []Step[orderInput]{tracedStep(tr, "reserve", nil, nil)},
		failingStore[orderInput]{NewMemoryStore[orderInput]()},
		WithLogger(zap.New(core)),
		WithPublisher(PublisherFunc(func(context.Context, Event) error {
			return errors.New("bus down")
		})),
	)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{})
	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotZero(t, logs.FilterMessage("failed to persist saga state").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to publish saga event").Len())
}

func TestPublisherPanicIsContained(t *testing.T) {
	tr := &trace{}
	o, err := New("order", []Step[orderInput]{tracedStep(tr, "reserve", nil, nil)}, nil,
		WithPublisher(PublisherFunc(func(context.Context, Event) error { panic("boom") })))
	require.NoError(t, err)

	var res Result[orderInput]
	require.NotPanics(t, func() { res = o.Execute(context.Background(), orderInput{}) })
	assert.Equal(t, StatusCompleted, res.Status)
}

type statusRecorder struct {
	mu          sync.Mutex
	transitions []string
	steps       []string
}

func (s *statusRecorder) StatusChanged(_ SagaName, from, to Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, fmt.Sprintf("%s->%s", from, to))
}

func (s *statusRecorder) StepFinished(_ SagaName, step StepName, phase Phase, _ time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, fmt.Sprintf("%s/%s/%t", step, phase, err == nil))
}

func TestObserverSeesStatusFlow(t *testing.T) {
	tr := &trace{}
	rec := &statusRecorder{}

	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		tracedStep(tr, "pay", errors.New("declined"), nil),
	}, nil, WithObserver(rec))
	require.NoError(t, err)

	o.Execute(context.Background(), orderInput{})

	assert.Equal(t, []string{
		"PENDING->IN_PROGRESS",
		"IN_PROGRESS->COMPENSATING",
		"COMPENSATING->COMPENSATED",
		"COMPENSATED->FAILED",
	}, rec.transitions)
	assert.Equal(t, []string{
		"reserve/action/true",
		"pay/action/false",
		"reserve/compensation/true",
	}, rec.steps)
}

func TestExecuteWithIDRejectsExistingRun(t *testing.T) {
	tr := &trace{}
	o, err := New("order", []Step[orderInput]{tracedStep(tr, "reserve", nil, nil)}, nil)
	require.NoError(t, err)

	first := o.ExecuteWithID(context.Background(), "saga-1", orderInput{})
	require.NoError(t, first.Err)
	assert.Equal(t, "saga-1", first.SagaID)

	second := o.ExecuteWithID(context.Background(), "saga-1", orderInput{})
	assert.ErrorIs(t, second.Err, ErrRunExists)
	assert.Equal(t, []string{"do:reserve"}, tr.list())
}

func TestActiveRunIsExclusive(t *testing.T) {
	tr := &trace{}
	entered := make(chan struct{})
	release := make(chan struct{})

	slow := NewStep("reserve",
		func(ctx context.Context, sc *Context[orderInput]) (string, error) {
			close(entered)
			<-release
			tr.add("do:reserve")
			return "r-1", nil
		},
		func(ctx context.Context, sc *Context[orderInput]) error {
			tr.add("undo:reserve")
			return nil
		},
	)
	o, err := New("order", []Step[orderInput]{slow}, nil)
	require.NoError(t, err)

	done := make(chan Result[orderInput])
	go func() { done <- o.ExecuteWithID(context.Background(), "saga-1", orderInput{}) }()
	<-entered

	again := o.ExecuteWithID(context.Background(), "saga-1", orderInput{})
	assert.ErrorIs(t, again.Err, ErrRunInProgress)
	rb := o.Rollback(context.Background(), "saga-1")
	assert.ErrorIs(t, rb.Err, ErrRunInProgress)

	close(release)
	first := <-done
	require.NoError(t, first.Err)

	var wg sync.WaitGroup
	results := make([]Result[orderInput], 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Rollback(context.Background(), "saga-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(res.Err, ErrRunInProgress) || errors.Is(res.Err, ErrNotRollbackable), res.Err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, []string{"do:reserve", "undo:reserve"}, tr.list())
}

func TestSharedStoreStartsOneRunPerID(t *testing.T) {
	store := NewMemoryStore[orderInput]()
	tr := &trace{}
	steps := []Step[orderInput]{tracedStep(tr, "reserve", nil, nil)}

	var wg sync.WaitGroup
	results := make([]Result[orderInput], 8)
	for i := range results {
		o, err := New("order", steps, store)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.ExecuteWithID(context.Background(), "saga-1", orderInput{})
		}(i)
	}
	wg.Wait()

	started := 0
	for _, res := range results {
		if res.Err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, res.Err, ErrRunExists)
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, []string{"do:reserve"}, tr.list())
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	tr := &trace{}
	o, err := New("order", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		tracedStep(tr, "create", nil, nil),
	}, nil)
	require.NoError(t, err)

	const runs = 20
	results := make([]Result[orderInput], runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Execute(context.Background(), orderInput{OrderID: fmt.Sprintf("o-%d", i)})
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i, res := range results {
		require.NoError(t, res.Err)
		ids[res.SagaID] = true
		out, ok := Lookup[string](res.Context, "create")
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("create-o-%d", i), out)
	}
	assert.Len(t, ids, runs)
	assert.Len(t, tr.list(), 2*runs)
}

func TestNewRejectsInvalidSagas(t *testing.T) {
	_, err := New[orderInput]("empty", nil, nil)
	assert.ErrorIs(t, err, ErrEmptySaga)

	tr := &trace{}
	_, err = New("dup", []Step[orderInput]{
		tracedStep(tr, "reserve", nil, nil),
		tracedStep(tr, "reserve", nil, nil),
	}, nil)
	assert.ErrorIs(t, err, ErrDuplicateStep)
}

func TestNewOrchestratorRequiresRegisteredSteps(t *testing.T) {
	tr := &trace{}
	builderRegistry := NewStepRegistry[orderInput]()
	b := NewDagBuilder("order", builderRegistry)
	require.NoError(t, b.Append(&StepNode[orderInput]{Step: tracedStep(tr, "reserve", nil, nil)}))
	d, err := b.Build()
	require.NoError(t, err)

	_, err = NewOrchestrator(NewSagaDag(d), NewStepRegistry[orderInput](), nil)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestRollbackCompletedRun(t *testing.T) {
	store := NewMemoryStore[orderInput]()
	var compensatedWith []string
	var events []EventType

	reserve := NewStep("reserve",
		func(_ context.Context, sc *Context[orderInput]) (reservation, error) {
			return reservation{ReservationID: "r-" + sc.Input.OrderID}, nil
		},
		func(_ context.Context, sc *Context[orderInput]) error {
			r, err := MustLookup[reservation](sc, "reserve")
			if err != nil {
				return err
			}
			compensatedWith = append(compensatedWith, r.ReservationID)
			return nil
		},
	)
	create := NewStep("create",
		func(context.Context, *Context[orderInput]) (int, error) { return 42, nil },
		func(_ context.Context, sc *Context[orderInput]) error {
			id, err := MustLookup[int](sc, "create")
			if err != nil {
				return err
			}
			compensatedWith = append(compensatedWith, fmt.Sprint(id))
			return nil
		},
	)

	opts := []Option{WithPublisher(PublisherFunc(func(_ context.Context, ev Event) error {
		events = append(events, ev.Type)
		return nil
	}))}
	o, err := New("order", []Step[orderInput]{reserve, create}, store, opts...)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{OrderID: "o-7"})
	require.NoError(t, res.Err)

	// A second orchestrator over the same store sees only persisted state.
	restarted, err := New("order", []Step[orderInput]{reserve, create}, store, opts...)
	require.NoError(t, err)

	rb := restarted.Rollback(context.Background(), res.SagaID)
	require.NoError(t, rb.Err)
	assert.Equal(t, StatusCompensated, rb.Status)
	assert.Equal(t, []string{"42", "r-o-7"}, compensatedWith)
	assert.Equal(t, []EventType{EventCompleted, EventCompensated}, events)

	state, err := store.Load(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, state.Status)
	assert.ElementsMatch(t, []StepName{"create", "reserve"}, state.CompensatedSteps)

	again := restarted.Rollback(context.Background(), res.SagaID)
	assert.ErrorIs(t, again.Err, ErrNotRollbackable)
	assert.Len(t, compensatedWith, 2)
}

func TestRollbackRetriesFailedCompensations(t *testing.T) {
	store := NewMemoryStore[orderInput]()
	tr := &trace{}
	attempts := 0

	flaky := NewStep("reserve",
		func(context.Context, *Context[orderInput]) (string, error) { return "r", nil },
		func(context.Context, *Context[orderInput]) error {
			attempts++
			tr.add("undo:reserve")
			if attempts == 1 {
				return errors.New("timeout")
			}
			return nil
		},
	)

	o, err := New("order", []Step[orderInput]{
		flaky,
		tracedStep(tr, "create", nil, nil),
		tracedStep(tr, "pay", errors.New("declined"), nil),
	}, store)
	require.NoError(t, err)

	res := o.Execute(context.Background(), orderInput{})
	require.Len(t, res.CompensationErrors, 1)

	rb := o.Rollback(context.Background(), res.SagaID)
	require.NoError(t, rb.Err)
	assert.Equal(t, []string{"do:create", "do:pay", "undo:create", "undo:reserve", "undo:reserve"}, tr.list())
	assert.Equal(t, 2, attempts)
}

func TestRollbackUnknownRun(t *testing.T) {
	tr := &trace{}
	o, err := New("order", []Step[orderInput]{tracedStep(tr, "reserve", nil, nil)}, nil)
	require.NoError(t, err)

	res := o.Rollback(context.Background(), "missing")
	assert.ErrorIs(t, res.Err, ErrStateNotFound)
	assert.Empty(t, tr.list())
}
