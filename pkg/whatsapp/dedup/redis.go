package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "wa:dedup:"

// RedisCache shares the window across instances. SET NX PX makes the
// check-and-insert atomic on the server and the TTL does the sweeping.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

func NewRedisCache(client redis.UniversalClient, prefix string, window time.Duration) *RedisCache {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisCache{client: client, prefix: prefix, window: window}
}

func (r *RedisCache) Window() time.Duration { return r.window }

func (r *RedisCache) Check(ctx context.Context, senderID, content string) (bool, error) {
	inserted, err := r.client.SetNX(ctx, r.prefix+Fingerprint(senderID, content), 1, r.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: redis setnx: %w", err)
	}
	return !inserted, nil
}

// Clear drops every fingerprint under the prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
