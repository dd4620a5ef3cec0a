package deps

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyb3rgh05t/komandorr/internal/cache"
	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/metrics"
	"github.com/cyb3rgh05t/komandorr/internal/monitor"
	"github.com/cyb3rgh05t/komandorr/internal/registry"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
	"github.com/cyb3rgh05t/komandorr/internal/stats"
)

// Caches are the read-through caches in front of the summary and history endpoints.
type Caches struct {
	TrafficSummary *cache.Cache[domain.TrafficSummary]
	StorageSummary *cache.Cache[domain.StorageSummary]
	History        *cache.Cache[[]domain.Sample]
}

// HistoryKey is the History cache key of a series.
func HistoryKey(kind domain.SampleKind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// ForgetService drops every cached entry that belongs to a deleted service.
func (c Caches) ForgetService(ctx context.Context, id string) {
	if c.History == nil {
		return
	}
	for _, kind := range []domain.SampleKind{domain.KindTraffic, domain.KindStorage} {
		c.History.Invalidate(ctx, HistoryKey(kind, id))
	}
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedHosts       []string // Host headers allowed to access the server
	AllowedCIDRS       []string // IPs allowed to access admin endpoints
	TrustProxy         bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)
	AgentToken         string   // bearer token required from push agents (empty = open)
	IngestBurst        int      // per-IP burst on /metrics/*
	IngestRefillPerMin int      // per-IP refill on /metrics/*

	ServiceFile   string        // Path to the service definitions file
	ImportTrigger chan struct{} // Channel to trigger a manual services import (nil if no file)

	RedisClient  *redis.Client      // Redis client connection
	Registry     *registry.Registry // Authoritative service index
	Prober       *monitor.Prober    // Health checks
	Receiver     *monitor.Receiver  // Agent pushes
	Snapshots    *monitor.Snapshots // Current traffic and storage
	Samples      *samples.Store     // Sample history
	Aggregator   *stats.Aggregator  // Cross-service rollup
	Caches       Caches             // Read-through caches
	CacheManager *cache.Manager     // Cache warmer and admin
	Metrics      *metrics.Metrics   // Prometheus collectors (nil disables /internal/metrics)
	HistoryLimit int                // default and max sample count on history endpoints
}
