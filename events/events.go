// Package events delivers saga events to logs, Redis pub/sub and Amazon
// EventBridge.
package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudretail/saga"
)

// LogPublisher writes every event to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev saga.Event) error {
	fields := []zap.Field{
		zap.String("type", string(ev.Type)),
		zap.String("saga", ev.SagaName.String()),
		zap.String("saga_id", ev.SagaID),
		zap.String("status", ev.Status.String()),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.FailedStep != "" {
		fields = append(fields, zap.String("failed_step", string(ev.FailedStep)))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}

	p.logger.Info("saga event", fields...)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []saga.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, ev saga.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []saga.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]saga.Event(nil), r.events...)
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []saga.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]saga.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi publishes to every publisher and joins their errors. A failing
// publisher does not stop the others.
type Multi []saga.Publisher

func (m Multi) Publish(ctx context.Context, ev saga.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
