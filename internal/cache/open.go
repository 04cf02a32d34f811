package cache

import (
	"log"
	"time"
)

// Open returns a Redis cache when redisURL is set and reachable, otherwise an
// in-memory cache.
func Open(redisURL string, ttl time.Duration) Cache {
	if redisURL != "" {
		rc, err := NewRedisCache(redisURL, ttl)
		if err == nil {
			return rc
		}
		log.Printf("cache: redis unavailable, using memory cache: %v", err)
	}
	return NewMemoryCache(ttl, 10*time.Minute)
}
