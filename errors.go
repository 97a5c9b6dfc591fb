package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrStepNotFound is returned when a step name cannot be resolved.
	ErrStepNotFound = errors.New("step not found")

	// ErrDuplicateStep is returned when two steps share a name.
	ErrDuplicateStep = errors.New("duplicate step name")

	// ErrEmptySaga is returned when a saga is built without steps.
	ErrEmptySaga = errors.New("saga has no steps")

	// ErrSerialize is returned when a step output cannot be encoded as JSON.
	ErrSerialize = errors.New("step output is not serializable")

	// ErrStateNotFound is returned by stores for unknown saga IDs.
	ErrStateNotFound = errors.New("saga state not found")

	// ErrNotRollbackable is returned when a persisted run is in a status
	// that has nothing left to compensate.
	ErrNotRollbackable = errors.New("saga run cannot be rolled back")

	// ErrRunExists is returned when a run is started under the ID of a run
	// that is already persisted.
	ErrRunExists = errors.New("saga run already exists")

	// ErrRunInProgress is returned when a run is started or rolled back
	// while this orchestrator is already executing or compensating it.
	ErrRunInProgress = errors.New("saga run is in progress")
)

// StepError wraps the error returned by a step's forward action.
type StepError struct {
	Step StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CompensationError wraps the error returned by a step's compensation.
type CompensationError struct {
	Step StepName
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for step %s failed: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// RegistryError is returned by StepRegistry lookups and registrations.
type RegistryError struct {
	Name StepName
	Err  error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("step registry: %s: %v", e.Name, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// SerializeFailed marks err as an output serialization failure.
func SerializeFailed(err error) error {
	return fmt.Errorf("%w: %v", ErrSerialize, err)
}

// panicError converts a recovered panic value into an error.
func panicError(what string, step StepName, p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("%s %s panicked: %w", what, step, err)
	}
	return fmt.Errorf("%s %s panicked: %v", what, step, p)
}
