package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Orchestrator runs a saga. It is immutable once built and may execute any
// number of runs concurrently; each run gets its own Context and journal.
// A given saga ID is executed or rolled back by one caller at a time.
type Orchestrator[T any] struct {
	dag      *SagaDag
	registry *StepRegistry[T]
	store    Store[T]
	order    []StepName
	opts     options

	// active holds the IDs of runs currently executing or compensating.
	active *xsync.MapOf[string, struct{}]
}

// NewOrchestrator creates an orchestrator for a saga graph. Every step in
// the graph must be present in registry. A nil store keeps run state in
// memory.
func NewOrchestrator[T any](
	sagaDag *SagaDag,
	registry *StepRegistry[T],
	store Store[T],
	opts ...Option,
) (*Orchestrator[T], error) {
	if sagaDag == nil {
		return nil, errors.New("saga dag is required")
	}
	if registry == nil {
		return nil, errors.New("step registry is required")
	}
	if store == nil {
		store = NewMemoryStore[T]()
	}

	order, err := sagaDag.ExecutionOrder()
	if err != nil {
		return nil, fmt.Errorf("failed to get execution order: %w", err)
	}
	if len(order) == 0 {
		return nil, ErrEmptySaga
	}
	for _, name := range order {
		if _, err := registry.Get(name); err != nil {
			return nil, err
		}
	}

	o := &Orchestrator[T]{
		dag:      sagaDag,
		registry: registry,
		store:    store,
		order:    order,
		opts:     defaultOptions(),
		active:   xsync.NewMapOf[string, struct{}](),
	}
	for _, opt := range opts {
		opt(&o.opts)
	}

	return o, nil
}

// New builds an orchestrator for a plain ordered list of steps.
func New[T any](name SagaName, steps []Step[T], store Store[T], opts ...Option) (*Orchestrator[T], error) {
	if len(steps) == 0 {
		return nil, ErrEmptySaga
	}

	registry := NewStepRegistry[T]()
	builder := NewDagBuilder(name, registry)
	for _, step := range steps {
		if err := builder.Append(&StepNode[T]{Step: step}); err != nil {
			return nil, err
		}
	}

	d, err := builder.Build()
	if err != nil {
		return nil, err
	}

	return NewOrchestrator(NewSagaDag(d), registry, store, opts...)
}

func (o *Orchestrator[T]) Name() SagaName {
	return o.dag.SagaName
}

// Steps returns the step names in execution order.
func (o *Orchestrator[T]) Steps() []StepName {
	return append([]StepName(nil), o.order...)
}

func (o *Orchestrator[T]) Dag() *SagaDag {
	return o.dag
}

func (o *Orchestrator[T]) Store() Store[T] {
	return o.store
}

// Execute runs the saga with a freshly generated ID.
func (o *Orchestrator[T]) Execute(ctx context.Context, input T) Result[T] {
	return o.ExecuteWithID(ctx, o.opts.newID(), input)
}

// ExecuteWithID runs the saga under a caller-chosen ID. No step runs when
// the ID is already persisted or active, or when the initial state cannot
// be stored.
func (o *Orchestrator[T]) ExecuteWithID(ctx context.Context, sagaID string, input T) Result[T] {
	if sagaID == "" {
		sagaID = o.opts.newID()
	}

	release, ok := o.claim(sagaID)
	if !ok {
		return o.busy(sagaID, StatusPending)
	}
	defer release()

	r := o.newRun(sagaID, input)
	if err := o.store.Create(ctx, sagaID, r.state()); err != nil {
		if !errors.Is(err, ErrRunExists) {
			r.logger.Error("failed to create saga state", zap.Error(err))
		}
		return Result[T]{
			SagaID:   sagaID,
			SagaName: o.Name(),
			Status:   StatusPending,
			Err:      fmt.Errorf("saga %s: %w", sagaID, err),
		}
	}

	r.execute(ctx)
	return r.result()
}

// Rollback compensates, in reverse order, every step of a persisted run
// that succeeded and has not been compensated yet. It is used to cancel a
// completed run and to retry compensations that failed.
func (o *Orchestrator[T]) Rollback(ctx context.Context, sagaID string) Result[T] {
	release, ok := o.claim(sagaID)
	if !ok {
		return o.busy(sagaID, "")
	}
	defer release()

	state, err := o.store.Load(ctx, sagaID)
	if err != nil {
		return Result[T]{
			SagaID:   sagaID,
			SagaName: o.Name(),
			Err:      fmt.Errorf("load saga %s: %w", sagaID, err),
		}
	}

	if state.SagaName != o.Name() {
		return Result[T]{
			SagaID:   sagaID,
			SagaName: state.SagaName,
			Status:   state.Status,
			Err:      fmt.Errorf("saga %s belongs to %q, not %q", sagaID, state.SagaName, o.Name()),
		}
	}

	r, err := o.restoreRun(state)
	if err != nil {
		return Result[T]{SagaID: sagaID, SagaName: o.Name(), Status: state.Status, Err: err}
	}

	if len(r.executed) == 0 {
		res := r.result()
		res.Err = fmt.Errorf("saga %s is %s: %w", sagaID, state.Status, ErrNotRollbackable)
		return res
	}

	r.logger.Info("rolling back saga", zapSteps(r.executed))
	r.compensate(ctx)

	res := r.result()
	if len(res.CompensationErrors) > 0 {
		res.Err = fmt.Errorf("rollback of saga %s incomplete: %w", sagaID, errors.Join(res.CompensationErrors...))
	}
	return res
}

// claim marks sagaID as active. The returned func releases it.
func (o *Orchestrator[T]) claim(sagaID string) (func(), bool) {
	if _, loaded := o.active.LoadOrStore(sagaID, struct{}{}); loaded {
		return nil, false
	}
	return func() { o.active.Delete(sagaID) }, true
}

func (o *Orchestrator[T]) busy(sagaID string, status Status) Result[T] {
	return Result[T]{
		SagaID:   sagaID,
		SagaName: o.Name(),
		Status:   status,
		Err:      fmt.Errorf("saga %s: %w", sagaID, ErrRunInProgress),
	}
}

// Result is the outcome of a run. Err is nil only when Status is COMPLETED,
// or COMPENSATED after a clean Rollback.
type Result[T any] struct {
	SagaID             string
	SagaName           SagaName
	Status             Status
	Err                error
	FailedStep         StepName
	CompensationErrors []error
	Context            *Context[T]
	Journal            []JournalEntry
}

func (r Result[T]) Succeeded() bool {
	return r.Status == StatusCompleted && r.Err == nil
}

// Executed returns the steps whose action succeeded, in execution order.
func (r Result[T]) Executed() []StepName {
	return r.stepsWith(JournalSucceeded)
}

// Compensated returns the steps whose compensation was invoked, in the order
// it was invoked. After Rollback, steps compensated by an earlier attempt
// are listed first.
func (r Result[T]) Compensated() []StepName {
	return r.stepsWith(JournalCompensationStarted)
}

func (r Result[T]) stepsWith(event JournalEvent) []StepName {
	var out []StepName
	for _, e := range r.Journal {
		if e.Event == event {
			out = append(out, e.Step)
		}
	}
	return out
}
