package saga

import (
	"context"
	"encoding/json"
	"fmt"
)

// StepName identifies a step within a saga. It is also the key under which
// the step's output is stored in the run Context.
type StepName string

// SagaName is a human-readable name for a particular saga.
type SagaName string

func (s SagaName) String() string {
	return string(s)
}

// Step is the building block of a saga.
//
// Do performs the forward action and returns a JSON-serializable output.
// Compensate semantically undoes Do; it is only called if Do succeeded.
type Step[T any] interface {
	Name() StepName
	Do(ctx context.Context, sc *Context[T]) (any, error)
	Compensate(ctx context.Context, sc *Context[T]) error
}

// compensable is implemented by steps that can report they have no
// compensation at all, which is logged when the step is unwound.
type compensable interface {
	HasCompensation() bool
}

// StepFunc is an implementation of Step that uses ordinary functions.
type StepFunc[T any, R any] struct {
	name       StepName
	do         func(ctx context.Context, sc *Context[T]) (R, error)
	compensate func(ctx context.Context, sc *Context[T]) error
}

// NewStep constructs a step from a pair of functions. A nil compensate
// function means the step has no compensation.
func NewStep[T any, R any](
	name StepName,
	do func(ctx context.Context, sc *Context[T]) (R, error),
	compensate func(ctx context.Context, sc *Context[T]) error,
) *StepFunc[T, R] {
	return &StepFunc[T, R]{
		name:       name,
		do:         do,
		compensate: compensate,
	}
}

// NewStepWithoutCompensation constructs a step whose effects need no undo.
func NewStepWithoutCompensation[T any, R any](
	name StepName,
	do func(ctx context.Context, sc *Context[T]) (R, error),
) *StepFunc[T, R] {
	return NewStep(name, do, NoOpCompensation[T])
}

// NoOpCompensation is a compensation that does nothing.
func NoOpCompensation[T any](_ context.Context, _ *Context[T]) error {
	return nil
}

// Do implements Step. The output is checked for JSON serializability so it
// can be persisted and restored for a later rollback.
func (s *StepFunc[T, R]) Do(ctx context.Context, sc *Context[T]) (any, error) {
	out, err := s.do(ctx, sc)
	if err != nil {
		return nil, err
	}

	if _, err := json.Marshal(out); err != nil {
		return nil, SerializeFailed(err)
	}

	return out, nil
}

// Compensate implements Step.
func (s *StepFunc[T, R]) Compensate(ctx context.Context, sc *Context[T]) error {
	if s.compensate == nil {
		return nil
	}
	return s.compensate(ctx, sc)
}

func (s *StepFunc[T, R]) HasCompensation() bool {
	return s.compensate != nil
}

func (s *StepFunc[T, R]) Name() StepName {
	return s.name
}

func (s *StepFunc[T, R]) String() string {
	return fmt.Sprintf("StepFunc[%s]", s.name)
}
