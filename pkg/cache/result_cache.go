// Package cache provides a read-through cache for finished task results so
// repeated result polls do not hit the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const resultKeyPrefix = "promptgate:task_result:"

// ResultCache stores terminal task results keyed by task id. A miss is never
// an error; callers fall through to persistence.
type ResultCache interface {
	Get(ctx context.Context, taskID string) (map[string]any, bool, error)
	Set(ctx context.Context, taskID string, result map[string]any) error
	Close() error
}

type RedisResultCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisResultCache(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisResultCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisResultCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger.With("module", "result_cache"),
	}, nil
}

func (c *RedisResultCache) Get(ctx context.Context, taskID string) (map[string]any, bool, error) {
	payload, err := c.client.Get(ctx, resultKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached result: %w", err)
	}

	var result map[string]any

	if err := json.Unmarshal(payload, &result); err != nil {
		// A corrupt entry behaves like a miss so the caller re-reads.
		c.logger.WarnContext(ctx, "Dropping corrupt cached result", "task_id", taskID, "error", err)
		c.client.Del(ctx, resultKeyPrefix+taskID)

		return nil, false, nil
	}

	return result, true, nil
}

func (c *RedisResultCache) Set(ctx context.Context, taskID string, result map[string]any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for cache: %w", err)
	}

	err = c.client.Set(ctx, resultKeyPrefix+taskID, payload, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return nil
}

func (c *RedisResultCache) Close() error {
	return c.client.Close()
}

// NoopResultCache is used when no redis endpoint is configured.
type NoopResultCache struct{}

func (NoopResultCache) Get(context.Context, string) (map[string]any, bool, error) {
	return nil, false, nil
}

func (NoopResultCache) Set(context.Context, string, map[string]any) error {
	return nil
}

func (NoopResultCache) Close() error {
	return nil
}
