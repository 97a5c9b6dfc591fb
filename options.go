package saga

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	publisher Publisher
	observer  Observer
	newID     func() string
	now       func() time.Time
}

func defaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		publisher: nopPublisher{},
		observer:  nopObserver{},
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPublisher sets where completion, compensation and failure events go.
func WithPublisher(p Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithIDGenerator overrides how saga IDs are generated. The default is a
// random UUID.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock overrides the time source used for journal and state timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
