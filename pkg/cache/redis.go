package cache

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RedisCache struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(ctx context.Context, cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		DB:           cfg.DB,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func requeueKey(id uuid.UUID) string {
	return fmt.Sprintf("requeued:%s", id)
}

// MarkRequeued records that a document was re-published. It returns false
// when a marker already exists, meaning another sweep re-published it
// within ttl.
func (r *RedisCache) MarkRequeued(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, requeueKey(id), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set requeue marker in Redis: %w", err)
	}
	return ok, nil
}

// ClearRequeued drops the marker so the next sweep retries the document.
func (r *RedisCache) ClearRequeued(ctx context.Context, id uuid.UUID) error {
	if err := r.client.Del(ctx, requeueKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to clear requeue marker in Redis: %w", err)
	}
	return nil
}
