package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cloudretail/saga"
	"github.com/cloudretail/saga/events"
	"github.com/cloudretail/saga/idempotency"
	"github.com/cloudretail/saga/internal/config"
	"github.com/cloudretail/saga/internal/database"
	"github.com/cloudretail/saga/internal/metrics"
	"github.com/cloudretail/saga/internal/orders"
)

// environment is the wired service and everything it holds open.
type environment struct {
	db       *database.DB
	repo     *orders.Repository
	svc      *orders.Service
	guard    *idempotency.Guard
	registry *prometheus.Registry

	closers []func() error
}

// openDB connects and brings the schema up to date.
func (a *app) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.ConnString(), a.cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) open(ctx context.Context) (*environment, error) {
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	env := &environment{db: db, closers: []func() error{db.Close}}

	if err := a.wire(ctx, env); err != nil {
		_ = env.Close()
		return nil, err
	}
	return env, nil
}

func (a *app) wire(ctx context.Context, env *environment) error {
	store, err := newStateStore(a.cfg.Saga, env.db)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := newPublisher(ctx, a.cfg.Events, a.logger)
	if err != nil {
		return err
	}
	if closePublisher != nil {
		env.closers = append(env.closers, closePublisher)
	}

	env.registry = prometheus.NewRegistry()
	env.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(env.registry)
	if err != nil {
		return err
	}

	env.repo = orders.NewRepository(env.db)
	orchestrator, err := orders.NewSaga(
		env.repo,
		orders.NewStubGateway(a.cfg.Payments.DeclineAbove, a.logger.Named("payments")),
		store,
		saga.WithLogger(a.logger.Named("saga")),
		saga.WithPublisher(publisher),
		saga.WithObserver(collector),
	)
	if err != nil {
		return err
	}

	env.guard = idempotency.NewGuard(
		database.NewIdempotencyStore(env.db),
		idempotency.WithLogger(a.logger.Named("idempotency")),
		idempotency.WithTTL(a.cfg.Idempotency.TTL),
	)
	env.svc = orders.NewService(env.repo, orchestrator, env.guard, a.logger.Named("orders"))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (e *environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newStateStore(cfg config.SagaConfig, db *database.DB) (saga.Store[orders.PlaceOrderInput], error) {
	switch cfg.StateBackend {
	case "sql":
		return database.NewSagaStore[orders.PlaceOrderInput](db), nil
	case "file":
		return saga.NewFileStore[orders.PlaceOrderInput](cfg.StateDir)
	case "memory":
		return saga.NewMemoryStore[orders.PlaceOrderInput](), nil
	default:
		return nil, fmt.Errorf("unknown saga state backend %q", cfg.StateBackend)
	}
}

// newPublisher builds the event sink. Every sink except none also logs
// events. The returned close function may be nil.
func newPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (saga.Publisher, func() error, error) {
	logPublisher := events.NewLogPublisher(logger.Named("events"))

	switch cfg.Sink {
	case "none":
		return nil, nil, nil
	case "log":
		return logPublisher, nil, nil
	case "redis":
		client, err := events.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return events.Multi{logPublisher, events.NewRedisPublisher(client, cfg.Redis.Channel)}, client.Close, nil
	case "eventbridge":
		client, err := events.NewEventBridgeClient(ctx, cfg.EventBridge.Region, cfg.EventBridge.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		return events.Multi{logPublisher, events.NewEventBridgePublisher(client, cfg.EventBridge.Bus, cfg.EventBridge.Source)}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown event sink %q", cfg.Sink)
	}
}
