package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OrderLocker is an advisory per-order lock across service instances. It
// only saves wasted provider calls; correctness rests on the idempotency
// key and the ledger's uniqueness constraint.
type OrderLocker interface {
	// TryLock returns acquired=false without error when another holder has it.
	TryLock(ctx context.Context, orderID uuid.UUID) (release func(), acquired bool, err error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOrderLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisOrderLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisOrderLocker {
	return &RedisOrderLocker{client: client, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func lockKey(orderID uuid.UUID) string {
	return fmt.Sprintf("billing:charge-lock:%s", orderID)
}

func (l *RedisOrderLocker) TryLock(ctx context.Context, orderID uuid.UUID) (func(), bool, error) {
	key := lockKey(orderID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release order lock", zap.String("order_id", orderID.String()), zap.Error(err))
		}
	}
	return release, true, nil
}
