package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheEnvelope is the stored form of a mirrored cache entry
type cacheEnvelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

// SaveCacheEntry mirrors one cache entry so a cold start can serve it as stale
func (s *Store) SaveCacheEntry(ctx context.Context, cache, key string, data []byte, fetchedAt time.Time) error {
	payload, err := json.Marshal(cacheEnvelope{FetchedAt: fetchedAt, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, CacheKey(cache, key), payload, s.cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

// LoadCacheEntry retrieves a mirrored entry; found is false on a miss
func (s *Store) LoadCacheEntry(ctx context.Context, cache, key string) (data []byte, fetchedAt time.Time, found bool, err error) {
	raw, err := s.client.Get(ctx, CacheKey(cache, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, false, nil // Cache miss
		}
		return nil, time.Time{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return env.Data, env.FetchedAt, true, nil
}

// FlushCache removes every mirrored entry of a cache, or of all caches when cache is empty
func (s *Store) FlushCache(ctx context.Context, cache string) error {
	pattern := KeyPrefixCache + "*"
	if cache != "" {
		pattern = KeyPrefixCache + cache + ":*"
	}
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache key: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	return nil
}

// DeleteCacheEntry removes one mirrored entry
func (s *Store) DeleteCacheEntry(ctx context.Context, cache, key string) error {
	if err := s.client.Del(ctx, CacheKey(cache, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
