package testutil

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisOnce     sync.Once
	redisEndpoint string
	redisErr      error

	postgresOnce      sync.Once
	postgresContainer *postgres.PostgresContainer
	postgresErr       error

	kafkaOnce    sync.Once
	kafkaBrokers []string
	kafkaErr     error
)

// RedisAddress starts a shared redis container and returns its host:port.
func RedisAddress(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	redisOnce.Do(func() {
		container, err := testcontainers.Run(
			ctx, "redis:7-alpine",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err

			return
		}

		redisEndpoint, redisErr = container.Endpoint(ctx, "")
	})

	require.NoError(t, redisErr)

	return redisEndpoint
}

// PostgresURL starts a shared postgres container and returns its connection string.
func PostgresURL(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	postgresOnce.Do(func() {
		postgresContainer, postgresErr = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("stagehand_test"),
			postgres.WithUsername("stagehand"),
			postgres.WithPassword("stagehand"),
			postgres.BasicWaitStrategies(),
		)
	})

	require.NoError(t, postgresErr)

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return databaseURL
}

// PostgresDatabase creates an isolated database on the shared container, dropped when the
// test ends, and returns its connection string.
func PostgresDatabase(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	baseURL := PostgresURL(t)

	admin, err := sql.Open("postgres", baseURL)
	require.NoError(t, err)

	name := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
		_ = admin.Close()
	})

	databaseURL, err := url.Parse(baseURL)
	require.NoError(t, err)

	databaseURL.Path = "/" + name

	return databaseURL.String()
}

// KafkaBrokers starts a shared single node Kafka cluster and returns its brokers.
func KafkaBrokers(t *testing.T) []string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	kafkaOnce.Do(func() {
		container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.7.0",
			kafka.WithClusterID("stagehand-test"),
			testcontainers.WithEnv(map[string]string{"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true"}),
		)
		if err != nil {
			kafkaErr = err

			return
		}

		kafkaBrokers, kafkaErr = container.Brokers(ctx)
	})

	require.NoError(t, kafkaErr)

	return kafkaBrokers
}
