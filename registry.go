package saga

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// StepRegistry maps step names to their implementations.
//
// The saga graph only records step names. When a run is restored from
// persistent storage the concrete step types are gone, and the registry is
// how the orchestrator finds the compensations to call.
type StepRegistry[T any] struct {
	steps *xsync.MapOf[StepName, Step[T]]
}

func NewStepRegistry[T any]() *StepRegistry[T] {
	return &StepRegistry[T]{
		steps: xsync.NewMapOf[StepName, Step[T]](),
	}
}

// Register adds a step. Names must be unique.
func (r *StepRegistry[T]) Register(step Step[T]) error {
	if step == nil {
		return &RegistryError{Name: "<nil>", Err: ErrStepNotFound}
	}
	if _, loaded := r.steps.LoadOrStore(step.Name(), step); loaded {
		return &RegistryError{Name: step.Name(), Err: ErrDuplicateStep}
	}
	return nil
}

// Get retrieves a step by name.
func (r *StepRegistry[T]) Get(name StepName) (Step[T], error) {
	step, ok := r.steps.Load(name)
	if !ok {
		return nil, &RegistryError{Name: name, Err: ErrStepNotFound}
	}
	return step, nil
}

// Names returns the registered step names in lexical order.
func (r *StepRegistry[T]) Names() []StepName {
	names := make([]StepName, 0, r.steps.Size())
	r.steps.Range(func(name StepName, _ Step[T]) bool {
		names = append(names, name)
		return true
	})
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
