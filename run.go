package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// run is the mutable state of one saga execution.
type run[T any] struct {
	o      *Orchestrator[T]
	logger *zap.Logger

	status    Status
	sctx      *Context[T]
	journal   *Journal
	createdAt time.Time

	// executed holds the steps that succeeded and are not yet compensated,
	// in execution order.
	executed    []StepName
	completed   []CompletedStep
	compensated []StepName

	err        error
	errText    string
	failedStep StepName
	compErrs   []error
}

func (o *Orchestrator[T]) newRun(sagaID string, input T) *run[T] {
	j := NewJournal(sagaID)
	j.now = o.opts.now

	return &run[T]{
		o: o,
		logger: o.opts.logger.With(
			zap.String("saga", o.Name().String()),
			zap.String("saga_id", sagaID),
		),
		status:    StatusPending,
		sctx:      newContext(sagaID, o.Name(), input),
		journal:   j,
		createdAt: o.opts.now(),
	}
}

// restoreRun rebuilds a run from persisted state so that it can be
// compensated. Step outputs come back as json.RawMessage.
func (o *Orchestrator[T]) restoreRun(state *State[T]) (*run[T], error) {
	r := o.newRun(state.SagaID, state.Input)
	r.status = state.Status
	r.createdAt = state.CreatedAt
	r.failedStep = state.FailedStep
	r.errText = state.Error
	r.completed = append([]CompletedStep(nil), state.CompletedSteps...)
	r.compensated = append([]StepName(nil), state.CompensatedSteps...)

	done := make(map[StepName]bool, len(state.CompensatedSteps))
	for _, name := range state.CompensatedSteps {
		done[name] = true
	}

	var entries []JournalEntry
	for _, cs := range state.CompletedSteps {
		if _, err := o.registry.Get(cs.Name); err != nil {
			return nil, fmt.Errorf("saga %s: %w", state.SagaID, err)
		}

		var output any
		if len(cs.Output) > 0 {
			output = cs.Output
		}
		if err := r.sctx.put(cs.Name, output); err != nil {
			return nil, err
		}

		entries = append(entries,
			JournalEntry{Step: cs.Name, Event: JournalStarted, At: cs.StartedAt},
			JournalEntry{Step: cs.Name, Event: JournalSucceeded, At: cs.FinishedAt},
		)
		if done[cs.Name] {
			entries = append(entries,
				JournalEntry{Step: cs.Name, Event: JournalCompensationStarted, At: state.UpdatedAt},
				JournalEntry{Step: cs.Name, Event: JournalCompensated, At: state.UpdatedAt},
			)
			continue
		}
		r.executed = append(r.executed, cs.Name)
	}

	j, err := RecoverJournal(state.SagaID, entries)
	if err != nil {
		return nil, err
	}
	j.now = o.opts.now
	r.journal = j

	return r, nil
}

func (r *run[T]) execute(ctx context.Context) {
	r.logger.Info("starting saga", zap.Int("steps", len(r.o.order)))
	r.setStatus(ctx, StatusInProgress)

	for i, name := range r.o.order {
		r.logger.Debug("executing step",
			zap.String("step", string(name)),
			zap.Int("index", i+1),
			zap.Int("total", len(r.o.order)),
		)

		if err := r.executeStep(ctx, name); err != nil {
			r.failedStep = name
			r.err = fmt.Errorf("saga %s failed at step %s: %w", r.o.Name(), name, err)
			r.errText = r.err.Error()
			r.logger.Error("step failed", zap.String("step", string(name)), zap.Error(err))

			r.compensate(ctx)

			r.setStatus(ctx, StatusFailed)
			r.logger.Error("saga failed",
				zap.String("failed_step", string(name)),
				zap.Int("compensation_errors", len(r.compErrs)),
				zap.Error(r.err),
			)
			r.publish(ctx, EventFailed)
			return
		}
	}

	r.setStatus(ctx, StatusCompleted)
	r.logger.Info("saga completed", zapSteps(r.executed))
	r.publish(ctx, EventCompleted)
}

func (r *run[T]) executeStep(ctx context.Context, name StepName) error {
	step, err := r.o.registry.Get(name)
	if err != nil {
		return err
	}

	r.record(name, JournalStarted, nil)
	startedAt := r.o.opts.now()

	out, err := r.runAction(ctx, step)

	finishedAt := r.o.opts.now()
	r.o.opts.observer.StepFinished(r.o.Name(), name, PhaseAction, finishedAt.Sub(startedAt), err)

	if err == nil {
		err = r.sctx.put(name, out)
	}
	if err != nil {
		r.record(name, JournalFailed, err)
		return &StepError{Step: name, Err: err}
	}

	r.record(name, JournalSucceeded, nil)
	r.executed = append(r.executed, name)

	raw, merr := json.Marshal(out)
	if merr != nil {
		r.logger.Warn("step output is not serializable, rollback will not see it",
			zap.String("step", string(name)), zap.Error(merr))
		raw = nil
	}
	r.completed = append(r.completed, CompletedStep{
		Name:       name,
		Output:     raw,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})
	r.persist(ctx)

	r.logger.Debug("step succeeded", zap.String("step", string(name)))
	return nil
}

// runAction calls the step's action. A cancelled context fails the step
// before the action is invoked.
func (r *run[T]) runAction(ctx context.Context, step Step[T]) (out any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			err = panicError("step", step.Name(), p)
		}
	}()

	return step.Do(ctx, r.sctx)
}

// compensate unwinds every executed step in reverse order. Compensations
// run even when ctx is already cancelled; a failing compensation is
// recorded and the remaining ones still run.
func (r *run[T]) compensate(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	r.setStatus(ctx, StatusCompensating)
	r.logger.Info("starting compensation", zapSteps(r.executed))

	for i := len(r.executed) - 1; i >= 0; i-- {
		name := r.executed[i]
		if err := r.compensateStep(ctx, name); err != nil {
			r.compErrs = append(r.compErrs, err)
			r.logger.Error("compensation failed", zap.String("step", string(name)), zap.Error(err))
		}
	}
	r.executed = nil

	r.setStatus(ctx, StatusCompensated)
	r.logger.Info("compensation finished",
		zap.Int("compensated", len(r.compensated)),
		zap.Int("errors", len(r.compErrs)),
	)
	r.publish(ctx, EventCompensated)
}

func (r *run[T]) compensateStep(ctx context.Context, name StepName) error {
	if st := r.journal.State(name); st != StateSucceeded {
		return &CompensationError{Step: name, Err: fmt.Errorf("step is %s, not succeeded", st)}
	}

	step, err := r.o.registry.Get(name)
	if err != nil {
		return &CompensationError{Step: name, Err: err}
	}
	if c, ok := step.(compensable); ok && !c.HasCompensation() {
		r.logger.Warn("no compensation defined for step", zap.String("step", string(name)))
	}

	r.record(name, JournalCompensationStarted, nil)
	startedAt := r.o.opts.now()

	err = r.runCompensation(ctx, step)

	r.o.opts.observer.StepFinished(r.o.Name(), name, PhaseCompensation, r.o.opts.now().Sub(startedAt), err)

	if err != nil {
		r.record(name, JournalCompensationFailed, err)
		return &CompensationError{Step: name, Err: err}
	}

	r.record(name, JournalCompensated, nil)
	r.compensated = append(r.compensated, name)
	r.persist(ctx)

	r.logger.Debug("step compensated", zap.String("step", string(name)))
	return nil
}

func (r *run[T]) runCompensation(ctx context.Context, step Step[T]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError("compensation for step", step.Name(), p)
		}
	}()

	return step.Compensate(ctx, r.sctx)
}

func (r *run[T]) record(name StepName, event JournalEvent, cause error) {
	if err := r.journal.Record(name, event, cause); err != nil {
		r.logger.Error("journal rejected transition", zap.Error(err))
	}
}

func (r *run[T]) setStatus(ctx context.Context, to Status) {
	from := r.status
	r.status = to
	r.o.opts.observer.StatusChanged(r.o.Name(), from, to)
	r.logger.Debug("saga status changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	r.persist(ctx)
}

// persist saves the run state. Store failures are logged and never change
// the outcome of the run.
func (r *run[T]) persist(ctx context.Context) {
	if err := r.o.store.Save(ctx, r.sctx.SagaID, r.state()); err != nil {
		r.logger.Warn("failed to persist saga state", zap.Error(err))
	}
}

func (r *run[T]) state() State[T] {
	return State[T]{
		SagaID:           r.sctx.SagaID,
		SagaName:         r.o.Name(),
		Status:           r.status,
		Input:            r.sctx.Input,
		CompletedSteps:   append([]CompletedStep(nil), r.completed...),
		CompensatedSteps: append([]StepName(nil), r.compensated...),
		FailedStep:       r.failedStep,
		Error:            r.errText,
		CreatedAt:        r.createdAt,
		UpdatedAt:        r.o.opts.now(),
	}
}

func (r *run[T]) publish(ctx context.Context, typ EventType) {
	ev := Event{
		Type:       typ,
		SagaID:     r.sctx.SagaID,
		SagaName:   r.o.Name(),
		Status:     r.status,
		Error:      r.errText,
		FailedStep: r.failedStep,
		Results:    r.sctx.Results(),
		OccurredAt: r.o.opts.now(),
	}

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("publisher panicked: %v", p)
			}
		}()
		return r.o.opts.publisher.Publish(ctx, ev)
	}()
	if err != nil {
		r.logger.Warn("failed to publish saga event", zap.String("event", string(typ)), zap.Error(err))
	}
}

func (r *run[T]) result() Result[T] {
	return Result[T]{
		SagaID:             r.sctx.SagaID,
		SagaName:           r.o.Name(),
		Status:             r.status,
		Err:                r.err,
		FailedStep:         r.failedStep,
		CompensationErrors: append([]error(nil), r.compErrs...),
		Context:            r.sctx,
		Journal:            r.journal.Entries(),
	}
}

func zapSteps(steps []StepName) zap.Field {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = string(s)
	}
	return zap.Strings("steps", names)
}
