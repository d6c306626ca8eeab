package mutex

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix         = "conductor:saga-lock:"
	defaultRedisLockTTL    = time.Minute
	defaultRedisRetryDelay = time.Millisecond * 50
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisClient is the part of go-redis client used by the mutex
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisOpt func(m *redisMutex)

// WithLockTTL sets for how long a lock is held if its owner dies without releasing it
func WithLockTTL(ttl time.Duration) RedisOpt {
	return func(m *redisMutex) {
		m.ttl = ttl
	}
}

// WithRetryDelay sets how often a busy lock is polled
func WithRetryDelay(delay time.Duration) RedisOpt {
	return func(m *redisMutex) {
		m.retryDelay = delay
	}
}

// NewRedisMutex creates a mutex shared by all processes connected to the same redis
func NewRedisMutex(client RedisClient, opts ...RedisOpt) Mutex {
	m := &redisMutex{
		client:     client,
		ttl:        defaultRedisLockTTL,
		retryDelay: defaultRedisRetryDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

type redisMutex struct {
	client     RedisClient
	ttl        time.Duration
	retryDelay time.Duration
}

func (m *redisMutex) Lock(ctx context.Context, sagaID string) (Lock, error) {
	key := redisKeyPrefix + sagaID
	token := uuid.New().String()

	for {
		acquired, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
		if err != nil {
			return nil, WithMutexErr(errors.Wrapf(err, "acquiring lock for saga %s", sagaID))
		}

		if acquired {
			return &redisLock{client: m.client, key: key, token: token, sagaID: sagaID}, nil
		}

		timer := time.NewTimer(m.retryDelay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, WithMutexErr(errors.Wrapf(ctx.Err(), "waiting for lock of saga %s", sagaID))
		case <-timer.C:
		}
	}
}

type redisLock struct {
	client RedisClient
	key    string
	token  string
	sagaID string
}

func (l *redisLock) Release(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int()
	if err != nil {
		return WithMutexErr(errors.Wrapf(err, "releasing lock for saga %s", l.sagaID))
	}

	if deleted != 1 {
		return WithMutexErr(errors.Errorf("lock of saga %s has expired or is owned by someone else", l.sagaID))
	}

	return nil
}
