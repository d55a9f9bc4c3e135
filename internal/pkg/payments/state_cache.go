package payments

import (
	"time"

	"github.com/attune-health/attune/internal/pkg/cache"
)

// redisStateCache backs StateCache with the shared cache client.
type redisStateCache struct{}

// NewRedisStateCache creates the production StateCache.
func NewRedisStateCache() StateCache {
	return redisStateCache{}
}

func (redisStateCache) Get(key string) (string, error) {
	return cache.Get(key)
}

func (redisStateCache) Set(key string, value string, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

func (redisStateCache) Delete(key string) error {
	return cache.Delete(key)
}
