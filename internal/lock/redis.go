package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	keyPrefix          = "dialer:lock:"
	defaultRetryPeriod = 50 * time.Millisecond
)

var ErrLockUnavailable = errors.New("record lock unavailable")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a call.Locker shared by every instance using the same redis.
// A lock expires after TTL if its holder dies. Repeated redis failures open
// CircuitBreaker, which asks the app to restart.
type RedisLocker struct {
	Client         *redis.Client
	CircuitBreaker *gobreaker.CircuitBreaker[bool]
	TTL            time.Duration
	RetryPeriod    time.Duration
}

func NewRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.Conf.RedisAddr,
		Password: config.Conf.RedisPassword,
		DB:       config.Conf.RedisDB,
	})
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	settings := circuitbreak.Settings(
		circuitbreak.RedisService,
		time.Duration(config.Conf.RedisIntervalCB)*time.Second,
		max(config.Conf.RedisConsecutiveFailuresCB, 1),
	)
	settings.IsSuccessful = isBreakerSuccess

	return &RedisLocker{
		Client:         client,
		CircuitBreaker: gobreaker.NewCircuitBreaker[bool](settings),
		TTL:            ttl,
		RetryPeriod:    defaultRetryPeriod,
	}
}

func (redisLocker *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := keyPrefix + key
	token := uuid.NewString()

	for {
		acquired, err := redisLocker.CircuitBreaker.Execute(func() (bool, error) {
			return redisLocker.Client.SetNX(ctx, lockKey, token, redisLocker.TTL).Result()
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}

		if acquired {
			return func() { redisLocker.release(lockKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisLocker.RetryPeriod):
		}
	}
}

func (redisLocker *RedisLocker) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisLocker.TTL)
	defer cancel()

	_, err := redisLocker.CircuitBreaker.Execute(func() (bool, error) {
		return true, releaseScript.Run(ctx, redisLocker.Client, []string{lockKey}, token).Err()
	})
	if err != nil {
		logging.Logger.Error("[RedisLocker] Failed to release lock",
			zap.String("key", lockKey),
			zap.String("error", err.Error()),
		)
	}
}

func (redisLocker *RedisLocker) Ping(ctx context.Context) error {
	return redisLocker.Client.Ping(ctx).Err()
}

// Canceled waits belong to the caller, not to redis.
func isBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
