package main

import (
	"context"
	"os"

	"github.com/dukex/stagehand/pkg/cmd"
	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "stagehand-api",
		Usage:                 "Request workflow executions and deliver collaborator notifications",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for correlation records",
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
				Value:   config.ProviderKafka,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "consumer-group",
				Usage:   "Kafka consumer group of the API",
				Value:   "stagehand-api",
				Sources: cli.EnvVars("KAFKA_CONSUMER_GROUP"),
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
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			api := config.API{
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
				Port: command.Int("port"),
			}

			err := api.Validate()
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Initializing Stagehand API")

			redisClient, err := cmd.NewRedisClient(ctx, api.RedisURL)
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, api.Stores, redisClient)
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(api.Bus, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			err = NewAPI(logger, persistence, eventBus).Start(api.Port)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
