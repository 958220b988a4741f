package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/log"
	"github.com/dukex/stagehand/pkg/otelhelper"
	"github.com/dukex/stagehand/pkg/workflow"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

func workerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (memory or postgres://...)",
			Value:   config.MemoryDatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for correlation records and constraint locks",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Usage:   "Key prefix of every redis record",
			Value:   "stagehand",
			Sources: cli.EnvVars("REDIS_PREFIX"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   config.ProviderGoChannel,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "consumer-group",
			Usage:   "Kafka consumer group shared by the workers",
			Value:   "stagehand-workers",
			Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing state plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.StringFlag{
			Name:    "sweep-schedule",
			Usage:   "Cron schedule of the timeout supervisor",
			Value:   workflow.DefaultSweepSchedule,
			Sources: cli.EnvVars("SWEEP_SCHEDULE"),
		},
		&cli.IntFlag{
			Name:    "sweep-batch-size",
			Usage:   "Expired instances handled per sweep",
			Value:   workflow.DefaultSweepBatchSize,
			Sources: cli.EnvVars("SWEEP_BATCH_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "response-max-age",
			Usage:   "How long an unclaimed notify response stays buffered",
			Value:   workflow.DefaultResponseMaxAge,
			Sources: cli.EnvVars("RESPONSE_MAX_AGE"),
		},
		&cli.IntFlag{
			Name:    "sweep-workers",
			Usage:   "Instances expired concurrently by one sweep",
			Value:   workflow.DefaultSweepWorkers,
			Sources: cli.EnvVars("SWEEP_WORKERS"),
		},
		&cli.FloatFlag{
			Name:    "expire-rate",
			Usage:   "Maximum expirations per second, 0 for unlimited",
			Sources: cli.EnvVars("EXPIRE_RATE"),
		},
		&cli.IntFlag{
			Name:    "barrier-retries",
			Usage:   "Compare-and-swap attempts on a barrier update",
			Value:   10,
			Sources: cli.EnvVars("BARRIER_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "How long execution definitions stay cached",
			Value:   workflow.DefaultCacheTTL,
			Sources: cli.EnvVars("CACHE_TTL"),
		},
		&cli.DurationFlag{
			Name:    "lock-ttl",
			Usage:   "Lifetime of a constraint lock held by a crashed worker",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("LOCK_TTL"),
		},
		&cli.DurationFlag{
			Name:    "lock-wait-timeout",
			Usage:   "How long to wait for a constraint lock",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("LOCK_WAIT_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.FloatFlag{
			Name:    "trace-sample-ratio",
			Usage:   "Fraction of executions traced, 1 traces everything",
			Value:   1,
			Sources: cli.EnvVars("TRACE_SAMPLE_RATIO"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func workerConfig(command *cli.Command) config.Worker {
	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	return config.Worker{
		Stores: config.Stores{
			DatabaseURL: command.String("database-url"),
			RedisURL:    command.String("redis-url"),
			RedisPrefix: command.String("redis-prefix"),
		},
		Bus: config.Bus{
			Provider:      command.String("event-bus"),
			KafkaBrokers:  config.SplitList(command.String("kafka-brokers")),
			ConsumerGroup: command.String("consumer-group"),
		},
		ID:              workerID,
		PluginsPath:     command.String("plugins-path"),
		SweepSchedule:   command.String("sweep-schedule"),
		SweepBatchSize:  command.Int("sweep-batch-size"),
		ResponseMaxAge:  command.Duration("response-max-age"),
		SweepWorkers:    command.Int("sweep-workers"),
		ExpireRate:      command.Float("expire-rate"),
		BarrierRetries:  command.Int("barrier-retries"),
		CacheTTL:        command.Duration("cache-ttl"),
		LockTTL:         command.Duration("lock-ttl"),
		LockWaitTimeout: command.Duration("lock-wait-timeout"),
	}
}

// setup configures logging and opens the runtime described by the command flags.
func setup(ctx context.Context, command *cli.Command) (*cmd.Runtime, config.Worker, *slog.Logger, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	worker := workerConfig(command)
	logger := log.WithModule("stagehand-worker").With("worker_id", worker.ID)

	var tracer trace.Tracer

	if command.Bool("tracing") {
		var err error

		tracer, err = otelhelper.NewTracer(ctx, otelhelper.TracerConfig{
			ServiceName: "stagehand-worker",
			InstanceID:  worker.ID,
			SampleRatio: command.Float("trace-sample-ratio"),
		})
		if err != nil {
			return nil, worker, nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	runtime, err := cmd.NewRuntime(ctx, logger, worker, tracer)
	if err != nil {
		return nil, worker, nil, err
	}

	if worker.DatabaseURL == config.MemoryDatabaseURL && worker.Provider == config.ProviderKafka {
		logger.WarnContext(ctx, "In-memory persistence is not shared with other workers on the Kafka bus")
	}

	return runtime, worker, logger, nil
}
