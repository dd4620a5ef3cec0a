package mw

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cyb3rgh05t/komandorr/internal/utils"
)

type RateLimitConfig struct {
	Burst             int
	RefillPerIPPerMin int
	MaxEntries        int           // forces an early sweep when reached; 0 means unbounded
	SweepInterval     time.Duration // how often idle callers are forgotten
	IdleTTL           time.Duration
	TrustProxy        bool
}

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// visitors holds one token bucket per client address.
type visitors struct {
	cfg   RateLimitConfig
	every rate.Limit

	mu        sync.Mutex
	byKey     map[string]*visitor
	lastSweep time.Time
}

func newVisitors(cfg RateLimitConfig, now time.Time) *visitors {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	cfg.Burst = max(cfg.Burst, 1)
	cfg.RefillPerIPPerMin = max(cfg.RefillPerIPPerMin, 1)
	return &visitors{
		cfg:       cfg,
		every:     rate.Limit(float64(cfg.RefillPerIPPerMin) / 60),
		byKey:     make(map[string]*visitor),
		lastSweep: now,
	}
}

func (v *visitors) get(key string, now time.Time) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	full := v.cfg.MaxEntries > 0 && len(v.byKey) >= v.cfg.MaxEntries
	if full || now.Sub(v.lastSweep) >= v.cfg.SweepInterval {
		for k, e := range v.byKey {
			if now.Sub(e.lastSeen) > v.cfg.IdleTTL {
				delete(v.byKey, k)
			}
		}
		v.lastSweep = now
	}

	e := v.byKey[key]
	if e == nil {
		e = &visitor{lim: rate.NewLimiter(v.every, v.cfg.Burst)}
		v.byKey[key] = e
	}
	e.lastSeen = now
	return e.lim
}

// RateLimit throttles each client address with a token bucket of Burst
// tokens refilled at RefillPerIPPerMin. Rejected requests get 429 and a
// Retry-After in whole seconds.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	v := newVisitors(cfg, time.Now())
	limit := strconv.Itoa(v.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			lim := v.get(utils.ClientIP(r, v.cfg.TrustProxy), now)

			w.Header().Set("X-RateLimit-Limit", limit)
			if !lim.AllowN(now, 1) {
				res := lim.ReserveN(now, 1)
				wait := res.DelayFrom(now)
				res.CancelAt(now)

				secs := max(int((wait+time.Second-1)/time.Second), 1)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("X-RateLimit-Remaining", "0")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(lim.TokensAt(now)), 0)))
			next.ServeHTTP(w, r)
		})
	}
}
