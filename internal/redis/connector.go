// Package redis opens the durable store connection and reports its health.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// Options configures the client and how long Connect keeps trying.
type Options struct {
	Addr         string
	User         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	ConnectTimeout time.Duration // give up after this long
	RetryInterval  time.Duration // first wait between pings, doubled after each failure
	MaxWait        time.Duration // cap on the wait between pings
	PingTimeout    time.Duration // per ping
	WarnThreshold  int           // failed attempts logged as warnings before they become errors
}

func (o Options) validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", name, d))
		}
	}
	if o.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	positive("ConnectTimeout", o.ConnectTimeout)
	positive("RetryInterval", o.RetryInterval)
	positive("MaxWait", o.MaxWait)
	positive("PingTimeout", o.PingTimeout)
	if o.WarnThreshold < 0 {
		errs = append(errs, fmt.Errorf("WarnThreshold must be >= 0, got %d", o.WarnThreshold))
	}
	return errors.Join(errs...)
}

type backoff struct {
	wait time.Duration
	max  time.Duration
}

// next returns the current wait and doubles it for the following call.
func (b *backoff) next() time.Duration {
	w := b.wait
	b.wait = min(b.wait*2, b.max)
	return w
}

// Connect builds a client and pings it until Redis answers. It gives up when
// ctx is done or ConnectTimeout elapses, closing the client before returning
// the last ping error.
func Connect(ctx context.Context, opts Options, log logger.Logger) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid redis options: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis",
		logger.String("addr", opts.Addr),
		logger.Int("db", opts.DB),
		logger.Duration("timeout", opts.ConnectTimeout))

	start := time.Now()
	bo := backoff{wait: opts.RetryInterval, max: opts.MaxWait}
	for attempt := 1; ; attempt++ {
		h := Check(ctx, client, opts.PingTimeout)
		if h.OK {
			fields := []logger.Field{
				logger.String("addr", opts.Addr),
				logger.Duration("latency", h.Latency),
			}
			if attempt > 1 {
				log.Warn("redis reachable after retries", append(fields,
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(start)))...)
			} else {
				log.Info("redis reachable", fields...)
			}
			return client, nil
		}

		wait := bo.next()
		select {
		case <-ctx.Done():
			_ = client.Close()
			log.Error("giving up on redis",
				logger.String("addr", opts.Addr),
				logger.Int("attempts", attempt),
				logger.Duration("elapsed", time.Since(start)),
				logger.Error(h.Err))
			return nil, fmt.Errorf("redis at %s unreachable after %d attempts: %w", opts.Addr, attempt, h.Err)
		case <-time.After(wait):
		}

		fields := []logger.Field{
			logger.String("addr", opts.Addr),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", bo.wait),
			logger.Error(h.Err),
		}
		if attempt <= opts.WarnThreshold {
			log.Warn("redis ping failed, retrying", fields...)
		} else {
			log.Error("redis still unreachable", fields...)
		}
	}
}

// Health is the outcome of a single ping.
type Health struct {
	OK      bool
	Latency time.Duration
	Err     error
}

// Check pings client once within timeout. A nil client is reported unhealthy.
func Check(ctx context.Context, client *redis.Client, timeout time.Duration) Health {
	if client == nil {
		return Health{Err: errors.New("redis client not initialized")}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return Health{Latency: time.Since(start), Err: err}
	}
	return Health{OK: true, Latency: time.Since(start)}
}
