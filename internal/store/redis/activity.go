package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// raisePeak stores ARGV[1] only when it is above the current peak and
// returns whichever is larger.
var raisePeak = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local candidate = tonumber(ARGV[1])
if candidate > current then
  redis.call('SET', KEYS[1], ARGV[1])
  return candidate
end
return current
`)

// RecordConcurrency raises the stored peak to sessions if it is higher and returns the peak
func (s *Store) RecordConcurrency(ctx context.Context, sessions int64) (int64, error) {
	peak, err := raisePeak.Run(ctx, s.client, []string{KeyPeakConcurrency}, sessions).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to record concurrency: %w", err)
	}
	return peak, nil
}

// PeakConcurrency returns the highest session count ever recorded
func (s *Store) PeakConcurrency(ctx context.Context) (int64, error) {
	peak, err := s.client.Get(ctx, KeyPeakConcurrency).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get peak concurrency: %w", err)
	}
	return peak, nil
}
