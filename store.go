package saga

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Store persists saga run state. It is generic over T, the saga input type.
type Store[T any] interface {
	// Create persists the initial state of a new run. It fails with
	// ErrRunExists when the ID is already taken.
	Create(ctx context.Context, sagaID string, state State[T]) error

	// Save persists the current run state.
	Save(ctx context.Context, sagaID string, state State[T]) error

	// Load retrieves a run by ID. Unknown IDs yield ErrStateNotFound.
	Load(ctx context.Context, sagaID string) (*State[T], error)

	// Delete removes a run. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, sagaID string) error

	// List returns all runs ordered by creation time.
	List(ctx context.Context) ([]State[T], error)
}

// State is the information needed to inspect a run or roll it back later.
type State[T any] struct {
	SagaID           string          `json:"saga_id"`
	SagaName         SagaName        `json:"saga_name"`
	Status           Status          `json:"status"`
	Input            T               `json:"input"`
	CompletedSteps   []CompletedStep `json:"completed_steps"`
	CompensatedSteps []StepName      `json:"compensated_steps,omitempty"`
	FailedStep       StepName        `json:"failed_step,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CompletedStep records a step whose action succeeded, with its output so
// that compensations can read it during a later rollback.
type CompletedStep struct {
	Name       StepName        `json:"name"`
	Output     json.RawMessage `json:"output,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

func (s State[T]) clone() State[T] {
	out := s
	out.CompletedSteps = append([]CompletedStep(nil), s.CompletedSteps...)
	out.CompensatedSteps = append([]StepName(nil), s.CompensatedSteps...)
	return out
}

func sortStates[T any](states []State[T]) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].SagaID < states[j].SagaID
		}
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
}

// MemoryStore is an in-memory Store for tests and for sagas whose runs do
// not need to survive a restart.
type MemoryStore[T any] struct {
	states map[string]State[T]
	mu     sync.RWMutex
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		states: make(map[string]State[T]),
	}
}

func (m *MemoryStore[T]) Create(_ context.Context, sagaID string, state State[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.states[sagaID]; exists {
		return ErrRunExists
	}
	m.states[sagaID] = state.clone()
	return nil
}

func (m *MemoryStore[T]) Save(_ context.Context, sagaID string, state State[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[sagaID] = state.clone()
	return nil
}

func (m *MemoryStore[T]) Load(_ context.Context, sagaID string) (*State[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[sagaID]
	if !exists {
		return nil, ErrStateNotFound
	}

	out := state.clone()
	return &out, nil
}

func (m *MemoryStore[T]) Delete(_ context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, sagaID)
	return nil
}

func (m *MemoryStore[T]) List(_ context.Context) ([]State[T], error) {
	m.mu.RLock()
	out := make([]State[T], 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.clone())
	}
	m.mu.RUnlock()

	sortStates(out)
	return out, nil
}
