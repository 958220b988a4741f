package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/stagehand/pkg/config"
	"github.com/dukex/stagehand/pkg/lock"
	"github.com/dukex/stagehand/pkg/persistence"
	"github.com/dukex/stagehand/pkg/persistence/memory"
	"github.com/dukex/stagehand/pkg/persistence/postgresql"
	redisstore "github.com/dukex/stagehand/pkg/persistence/redis"
	rd "github.com/redis/go-redis/v9"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

// NewPersistence opens the primary store named by the database URL scheme. A non nil redis
// client takes over the correlation records.
func NewPersistence(
	ctx context.Context, logger *slog.Logger, stores config.Stores, redisClient rd.UniversalClient,
) (persistence.Persistence, error) {
	var (
		primary persistence.Persistence
		err     error
	)

	switch provider := parsePersistenceProvider(stores.DatabaseURL); provider {
	case "memory":
		primary = memory.NewPersistence()
	case "postgres", "postgresql":
		primary, err = postgresql.NewPersistence(ctx, logger, stores.DatabaseURL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: persistence %q", ErrUnsupportedProvider, provider)
	}

	if redisClient == nil {
		return primary, nil
	}

	return &redisCorrelationPersistence{
		Persistence:  primary,
		client:       redisClient,
		correlations: redisstore.NewCorrelationRepository(redisClient, stores.RedisPrefix, logger),
	}, nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, _ := strings.Cut(databaseURL, "://")

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return provider
}

// NewRedisClient returns nil when redisURL is empty.
func NewRedisClient(ctx context.Context, redisURL string) (rd.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := rd.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := rd.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewLocker serializes constraint updates across workers through redis, or within the
// process when no redis client is configured.
func NewLocker(redisClient rd.UniversalClient, prefix string, options lock.Options, logger *slog.Logger) lock.Locker {
	if redisClient == nil {
		return lock.NewMemoryLocker(options)
	}

	if prefix == "" {
		prefix = redisstore.DefaultPrefix
	}

	return lock.NewRedisLocker(redisClient, prefix, options, logger)
}

type redisCorrelationPersistence struct {
	persistence.Persistence

	client       rd.UniversalClient
	correlations *redisstore.CorrelationRepository
}

func (p *redisCorrelationPersistence) CorrelationRepository() persistence.CorrelationRepository {
	return p.correlations
}

func (p *redisCorrelationPersistence) HealthCheck(ctx context.Context) error {
	err := p.Persistence.HealthCheck(ctx)
	if err != nil {
		return err
	}

	err = p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (p *redisCorrelationPersistence) Close(ctx context.Context) error {
	return errors.Join(p.Persistence.Close(ctx), p.client.Close())
}
