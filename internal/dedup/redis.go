package dedup

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix namespaces dedup sets in Redis.
	keyPrefix = "dedup:"

	// setTTL bounds how long an abandoned epoch's set survives.
	setTTL = 1 * time.Hour

	// opTimeout caps each Redis round trip so a slow Redis cannot stall
	// event routing.
	opTimeout = 2 * time.Second
)

// RedisCache is a Cache shared across processes for the same identity, so
// multiple clients of one user (for example several open tabs) form a single
// dedup domain. On Redis errors it fails open: the event is treated as
// unseen, trading possible duplicate delivery for availability.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache creates a Redis-backed cache for the given identity.
func NewRedisCache(client *redis.Client, identity string) *RedisCache {
	return &RedisCache{
		client: client,
		key:    keyPrefix + identity,
	}
}

// Seen reports whether the key was already recorded for this identity,
// recording it if not.
func (c *RedisCache) Seen(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	added, err := c.client.SAdd(ctx, c.key, key).Result()
	if err != nil {
		log.Printf("[dedup] redis SADD error key=%s: %v (failing open)", c.key, err)
		return false
	}
	if err := c.client.Expire(ctx, c.key, setTTL).Err(); err != nil {
		log.Printf("[dedup] redis EXPIRE error key=%s: %v", c.key, err)
	}
	return added == 0
}

// Clear drops the identity's dedup set, starting a fresh epoch for every
// client sharing it.
func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		log.Printf("[dedup] redis DEL error key=%s: %v", c.key, err)
	}
}

// Len returns the size of the identity's dedup set, or zero on error.
func (c *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := c.client.SCard(ctx, c.key).Result()
	if err != nil {
		log.Printf("[dedup] redis SCARD error key=%s: %v", c.key, err)
		return 0
	}
	return int(n)
}
