package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stagehand/pkg/barrier"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/constraint"
	"github.com/dukex/stagehand/pkg/delegate"
	"github.com/dukex/stagehand/pkg/eventbus"
	"github.com/dukex/stagehand/pkg/lock"
	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/states"
	"github.com/dukex/stagehand/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Runtime is everything a worker process runs executions with.
type Runtime struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Engine      *notify.Engine
	Barriers    *barrier.Coordinator
	Constraints *constraint.Coordinator
	Registry    *states.Registry
	Executor    *workflow.Executor
	Supervisor  *workflow.Supervisor
}

// NewRuntime opens the stores and the bus described by worker. tracer may be nil.
func NewRuntime(ctx context.Context, logger *slog.Logger, worker config.Worker, tracer trace.Tracer) (*Runtime, error) {
	err := worker.Validate()
	if err != nil {
		return nil, err
	}

	redisClient, err := NewRedisClient(ctx, worker.RedisURL)
	if err != nil {
		return nil, err
	}

	store, err := NewPersistence(ctx, logger, worker.Stores, redisClient)
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}

		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	bus, err := NewEventBus(worker.Bus, logger)
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	locker := NewLocker(redisClient, worker.RedisPrefix, lock.Options{
		TTL:           worker.LockTTL,
		WaitTimeout:   worker.LockWaitTimeout,
		RetryInterval: lock.DefaultOptions().RetryInterval,
	}, logger)

	engine := notify.NewEngine(store.CorrelationRepository(), logger)
	barriers := barrier.NewCoordinator(store.BarrierRepository(), engine, logger, uint64(worker.BarrierRetries))
	constraints := constraint.NewCoordinator(store.ConstraintRepository(), locker, engine, logger)

	registry, err := NewRegistry(logger, &states.Dependencies{
		Logger:      logger,
		Barriers:    barriers,
		Constraints: constraints,
		Tasks:       delegate.NewEventBusQueue(bus, worker.ID, logger),
		Validate:    states.NewValidator(),
	}, worker.PluginsPath)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)

		return nil, err
	}

	executor := workflow.NewExecutor(store, registry, engine, constraints, bus, logger, workflow.Options{
		WorkerID: worker.ID,
		Tracer:   tracer,
		CacheTTL: worker.CacheTTL,
	})

	supervisor := workflow.NewSupervisor(executor, store.InstanceRepository(), engine, logger, workflow.SupervisorOptions{
		Schedule:       worker.SweepSchedule,
		BatchSize:      worker.SweepBatchSize,
		ResponseMaxAge: worker.ResponseMaxAge,
		Workers:        worker.SweepWorkers,
		ExpireRate:     worker.ExpireRate,
	})

	return &Runtime{
		Persistence: store,
		EventBus:    bus,
		Engine:      engine,
		Barriers:    barriers,
		Constraints: constraints,
		Registry:    registry,
		Executor:    executor,
		Supervisor:  supervisor,
	}, nil
}

func (r *Runtime) Close(ctx context.Context) error {
	r.Supervisor.Stop(ctx)

	var errs []error

	err := r.EventBus.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
	}

	err = r.Persistence.Close(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to close persistence: %w", err))
	}

	return errors.Join(errs...)
}
