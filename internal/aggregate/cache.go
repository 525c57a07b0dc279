package aggregate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DescriptionCache stores description-fallback embeddings so a skill
// with zero assignments does not re-embed its description on every
// refresh. Keys include a description hash, so an edited description
// naturally misses and old entries age out by TTL.
type DescriptionCache interface {
	Get(ctx context.Context, skillID, description string) ([]float32, bool, error)
	Set(ctx context.Context, skillID, description string, vec []float32) error
}

// NoopCache always misses. Used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, string) ([]float32, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, string, []float32) error        { return nil }

// RedisCache implements DescriptionCache on Redis.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to Redis and returns a cache with a 30 day TTL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, ttl: 30 * 24 * time.Hour}, nil
}

func cacheKey(skillID, description string) string {
	sum := sha256.Sum256([]byte(description))
	return "toolscope:descvec:" + skillID + ":" + hex.EncodeToString(sum[:8])
}

func (c *RedisCache) Get(ctx context.Context, skillID, description string) ([]float32, bool, error) {
	data, err := c.rdb.Get(ctx, cacheKey(skillID, description)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, nil
	}
	return vec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, skillID, description string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, cacheKey(skillID, description), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
