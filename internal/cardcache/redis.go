package cardcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPrefix = "bilicard:"

// Redis is a Store shared between server instances. Any Redis error is
// logged and reported as a miss.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

// DialRedis creates a client for addr and verifies it with PING.
func DialRedis(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client, logger), nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key Key) (string, bool) {
	doc, err := r.client.Get(ctx, redisPrefix+key.String()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache get failed", zap.String("key", key.String()), zap.Error(err))
		}
		return "", false
	}
	return doc, true
}

// Put implements Store.
func (r *Redis) Put(ctx context.Context, key Key, doc string, ttl time.Duration) {
	if err := r.client.Set(ctx, redisPrefix+key.String(), doc, ttl).Err(); err != nil {
		r.logger.Warn("redis cache put failed", zap.String("key", key.String()), zap.Error(err))
	}
}

// Ping reports whether the backing Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
