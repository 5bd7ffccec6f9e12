package cmd

import (
	"log/slog"
	"time"

	"github.com/promptgate/promptgate/pkg/cache"
)

const resultCacheTTL = time.Hour

// NewResultCache returns the redis-backed result cache, or a no-op when no
// redis endpoint is configured.
func NewResultCache(redisURL string, logger *slog.Logger) cache.ResultCache {
	if redisURL == "" {
		return cache.NoopResultCache{}
	}

	resultCache, err := cache.NewRedisResultCache(redisURL, resultCacheTTL, logger)
	if err != nil {
		panic(err)
	}

	return resultCache
}
