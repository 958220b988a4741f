package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	// acquireScript takes the lock for owner, refreshing the ttl when owner already holds it.
	acquireScript = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`

	releaseScript = `
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`
)

// RedisLocker is a single-instance redis lock with owner tokens.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	options Options
	logger  *slog.Logger
	acquire *redis.Script
	release *redis.Script
}

func NewRedisLocker(client redis.UniversalClient, prefix string, options Options, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client:  client,
		prefix:  prefix,
		options: options,
		logger:  logger.With("module", "redis_locker"),
		acquire: redis.NewScript(acquireScript),
		release: redis.NewScript(releaseScript),
	}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + ":lock:" + name
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (Lease, error) {
	owner := uuid.New().String()
	key := l.key(name)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.options.RetryInterval
	policy.MaxInterval = 10 * l.options.RetryInterval
	policy.MaxElapsedTime = l.options.WaitTimeout

	err := backoff.Retry(func() error {
		res, err := l.acquire.Run(ctx, l.client, []string{key}, owner, l.options.TTL.Milliseconds()).Int()
		if err != nil {
			return backoff.Permanent(err)
		}

		if res != 1 {
			return ErrNotAcquired
		}

		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, name)
		}

		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	l.logger.DebugContext(ctx, "Lock acquired", "name", name, "owner", owner)

	return &redisLease{locker: l, key: key, owner: owner}, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	owner  string
}

func (l *redisLease) Release(ctx context.Context) error {
	res, err := l.locker.release.Run(ctx, l.locker.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	if res != 1 {
		l.locker.logger.WarnContext(ctx, "Lock expired before release", "key", l.key, "owner", l.owner)
	}

	return nil
}
