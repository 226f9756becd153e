package calls

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards an endpoint across API instances. Acquire returns a token
// that must be presented to Refresh and Release.
type Lease interface {
	Acquire(ctx context.Context, endpoint string) (token string, ok bool, err error)
	Refresh(ctx context.Context, endpoint, token string) error
	Release(ctx context.Context, endpoint, token string) error
}

const leaseKeyPrefix = "calls:endpoint:"

var leaseRefreshScript = redis.NewScript(`
-- KEYS[1] = lease key, ARGV[1] = token, ARGV[2] = ttl_ms
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var leaseReleaseScript = redis.NewScript(`
-- KEYS[1] = lease key, ARGV[1] = token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lease per endpoint. The TTL bounds how long a
// crashed instance can hold a line.
type RedisLease struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLease creates a lease backed by rdb.
func NewRedisLease(rdb *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisLease{rdb: rdb, ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context, endpoint string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, leaseKeyPrefix+endpoint, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLease) Refresh(ctx context.Context, endpoint, token string) error {
	return leaseRefreshScript.Run(ctx, l.rdb, []string{leaseKeyPrefix + endpoint}, token, l.ttl.Milliseconds()).Err()
}

func (l *RedisLease) Release(ctx context.Context, endpoint, token string) error {
	return leaseReleaseScript.Run(ctx, l.rdb, []string{leaseKeyPrefix + endpoint}, token).Err()
}
