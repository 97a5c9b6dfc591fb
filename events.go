package saga

import (
	"context"
	"time"
)

// EventType names the notifications emitted at the end of a run.
type EventType string

const (
	EventCompleted   EventType = "saga.completed"
	EventCompensated EventType = "saga.compensated"
	EventFailed      EventType = "saga.failed"
)

// Event is the external notification emitted when a run completes, finishes
// compensating or fails.
type Event struct {
	Type       EventType        `json:"type"`
	SagaID     string           `json:"saga_id"`
	SagaName   SagaName         `json:"saga_name"`
	Status     Status           `json:"status"`
	Error      string           `json:"error,omitempty"`
	FailedStep StepName         `json:"failed_step,omitempty"`
	Results    map[StepName]any `json:"results"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher delivers saga events. Publish errors are logged by the
// orchestrator and never change the outcome of a run.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// Phase tells an Observer which half of a step finished.
type Phase string

const (
	PhaseAction       Phase = "action"
	PhaseCompensation Phase = "compensation"
)

// Observer receives run telemetry. Implementations must be safe for
// concurrent use since one orchestrator may run many sagas at once.
type Observer interface {
	StatusChanged(saga SagaName, from, to Status)
	StepFinished(saga SagaName, step StepName, phase Phase, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) StatusChanged(SagaName, Status, Status) {}

func (nopObserver) StepFinished(SagaName, StepName, Phase, time.Duration, error) {}
