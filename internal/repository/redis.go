package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tiktok-sheets/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runLockPrefix = "run_lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisRunLock is a per-account lease shared by every process using the same Redis.
type RedisRunLock struct {
	client *redis.Client
	tokens sync.Map
}

func NewRedisRunLock(client *redis.Client) *RedisRunLock {
	return &RedisRunLock{client: client}
}

func (l *RedisRunLock) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	if l.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, runLockPrefix+accountID, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if ok {
		l.tokens.Store(accountID, token)
	}
	return ok, nil
}

func (l *RedisRunLock) Release(ctx context.Context, accountID string) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	token, ok := l.tokens.LoadAndDelete(accountID)
	if !ok {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{runLockPrefix + accountID}, token).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
