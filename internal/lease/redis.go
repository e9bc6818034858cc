package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/booking-manager/backend/internal/logger"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares leases between processes through Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
	log    logger.Logger
}

// NewRedisLocker wraps an existing client. Keys are stored under prefix.
func NewRedisLocker(client *redis.Client, prefix string, log logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, log: log}
}

// TryAcquire implements Locker with SET NX PX.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	full := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return &Lease{
		Key:   key,
		Token: token,
		release: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{full}, token).Err(); err != nil {
				r.log.Warn("releasing lease failed", logger.String("key", key), logger.Error(err))
			}
		},
	}, nil
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	Addr     string
	Password string
	DB       int

	ConnectTimeout time.Duration // total budget for the first ping
	RetryInterval  time.Duration // initial wait, doubled per attempt
	MaxWait        time.Duration
}

// Connect creates a client and pings it with capped exponential backoff
// until ConnectTimeout runs out.
func Connect(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis", logger.String("addr", opts.Addr))

	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		err := client.Ping(ctx).Err()
		if err == nil {
			log.Info("connected to redis", logger.String("addr", opts.Addr), logger.Int("attempts", attempt))
			return client, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			client.Close()
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			log.Warn("redis connection failed, retrying",
				logger.String("addr", opts.Addr),
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", wait),
				logger.Error(err))
			wait = min(wait*2, opts.MaxWait)
		}
	}
}
