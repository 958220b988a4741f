package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/stagehand/pkg/notify"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultSweepSchedule  = "@every 30s"
	DefaultSweepBatchSize = 100
	DefaultResponseMaxAge = 24 * time.Hour
	DefaultSweepWorkers   = 4
)

type SupervisorOptions struct {
	// Schedule is a cron expression or descriptor such as "@every 30s".
	Schedule  string
	BatchSize int
	// ResponseMaxAge is how long an unconsumed notify response stays buffered.
	ResponseMaxAge time.Duration
	// Workers bounds how many instances expire concurrently.
	Workers int
	// ExpireRate caps expirations per second across a sweep; zero means unlimited.
	ExpireRate float64
	Clock      func() time.Time
}

// Supervisor periodically expires WAITING instances past their deadline and purges stale
// buffered notify responses.
type Supervisor struct {
	executor  *Executor
	instances persistence.InstanceRepository
	engine    *notify.Engine
	logger    *slog.Logger
	options   SupervisorOptions
	limiter   *rate.Limiter
	cron      *cron.Cron
}

func NewSupervisor(
	executor *Executor,
	instances persistence.InstanceRepository,
	engine *notify.Engine,
	logger *slog.Logger,
	options SupervisorOptions,
) *Supervisor {
	if options.Schedule == "" {
		options.Schedule = DefaultSweepSchedule
	}

	if options.BatchSize <= 0 {
		options.BatchSize = DefaultSweepBatchSize
	}

	if options.ResponseMaxAge <= 0 {
		options.ResponseMaxAge = DefaultResponseMaxAge
	}

	if options.Workers <= 0 {
		options.Workers = DefaultSweepWorkers
	}

	if options.Clock == nil {
		options.Clock = func() time.Time { return time.Now().UTC() }
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if options.ExpireRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.ExpireRate), max(1, int(options.ExpireRate)))
	}

	return &Supervisor{
		executor:  executor,
		instances: instances,
		engine:    engine,
		logger:    logger.With("module", "timeout_supervisor"),
		options:   options,
		limiter:   limiter,
	}
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := s.cron.AddFunc(s.options.Schedule, func() {
		_, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Supervisor sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule supervisor sweep %q: %w", s.options.Schedule, err)
	}

	s.logger.InfoContext(ctx, "Starting supervisor", "schedule", s.options.Schedule, "job_id", id)
	s.cron.Start()

	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Supervisor) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}

	s.logger.InfoContext(ctx, "Stopping supervisor")
	<-s.cron.Stop().Done()
}

// Sweep expires one batch of overdue instances and returns how many it expired.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	expired, err := s.instances.ExpiredInstances(ctx, s.options.Clock(), s.options.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired instances: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)

	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()

		errs = append(errs, err)
	}

	var group errgroup.Group

	group.SetLimit(s.options.Workers)

	for _, instance := range expired {
		err := s.limiter.Wait(ctx)
		if err != nil {
			fail(fmt.Errorf("sweep interrupted: %w", err))

			break
		}

		group.Go(func() error {
			err := s.executor.Expire(ctx, instance.ID)
			if err != nil {
				fail(fmt.Errorf("failed to expire instance %s: %w", instance.ID, err))
			}

			return nil
		})
	}

	_ = group.Wait()

	s.executor.metrics.RecordExpired(ctx, len(expired))

	err = s.engine.CleanupExpired(ctx, s.options.ResponseMaxAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to purge buffered responses: %w", err))
	}

	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "Expired overdue instances", "count", len(expired))
	}

	return len(expired), errors.Join(errs...)
}
