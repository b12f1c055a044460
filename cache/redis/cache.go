// Package redis implements the interaction cache on Redis. Reply counts
// are stored as plain string keys with a TTL, so a positive finding from
// the slow interaction source serves subsequent evaluations without
// another source round trip.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cache := cacheredis.New(client)
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oramind/gatekit/approval"
)

// Compile-time interface check.
var _ approval.InteractionCache = (*Cache)(nil)

const keyPrefix = "gatekit:"

// DefaultTTL bounds how long a cached reply count is trusted before the
// source is consulted again.
const DefaultTTL = time.Hour

// Option configures the Cache.
type Option func(*Cache)

// WithTTL sets the expiry for cached reply counts.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// Cache implements approval.InteractionCache backed by Redis.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New creates a Redis-backed interaction cache. The caller owns the
// Redis client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Cache {
	c := &Cache{client: client, ttl: DefaultTTL}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ReplyCount returns the cached reply count for a target within the
// lookback window. ok is false on a cache miss.
func (c *Cache) ReplyCount(ctx context.Context, target string, lookback time.Duration) (int, bool, error) {
	val, err := c.client.Get(ctx, replyKey(target, lookback)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("gatekit/cache: get reply count: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		// A corrupt value is treated as a miss so the source refreshes it.
		return 0, false, nil
	}
	return count, true, nil
}

// RecordReplyCount caches a reply count from the source.
func (c *Cache) RecordReplyCount(ctx context.Context, target string, lookback time.Duration, count int) error {
	err := c.client.Set(ctx, replyKey(target, lookback), strconv.Itoa(count), c.ttl).Err()
	if err != nil {
		return fmt.Errorf("gatekit/cache: record reply count: %w", err)
	}
	return nil
}

// replyKey returns the key for a target's reply count within a lookback
// window: gatekit:replies:{target}:{lookback}. The window is part of the
// key so rules with different lookbacks never share entries.
func replyKey(target string, lookback time.Duration) string {
	return fmt.Sprintf("%sreplies:%s:%s", keyPrefix, target, lookback)
}
