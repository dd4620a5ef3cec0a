package agent

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
)

const (
	mib = 1024 * 1024
	gib = 1024 * 1024 * 1024
)

type netCountersFunc func(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error)

// TrafficCollector turns interface byte counters into bandwidth and
// cumulative totals. Totals count from the first Collect, so an agent
// restart resets them; the server treats that as a counter reset.
type TrafficCollector struct {
	serviceID string
	iface     string
	counters  netCountersFunc
	now       func() time.Time

	mu       sync.Mutex
	seeded   bool
	prevSent uint64
	prevRecv uint64
	prevAt   time.Time
	totalUp  float64 // GB
	totalDn  float64 // GB
}

// NewTrafficCollector counts iface, or every interface when iface is empty.
func NewTrafficCollector(serviceID, iface string) *TrafficCollector {
	return &TrafficCollector{
		serviceID: serviceID,
		iface:     iface,
		counters:  psnet.IOCountersWithContext,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Collect samples the counters and returns the update to push. The first
// call only seeds the baseline and reports zero bandwidth.
func (c *TrafficCollector) Collect(ctx context.Context) (domain.TrafficUpdate, error) {
	sent, recv, err := c.read(ctx)
	if err != nil {
		return domain.TrafficUpdate{}, err
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	u := domain.TrafficUpdate{ServiceID: c.serviceID, Timestamp: &now}
	if !c.seeded {
		c.seeded = true
		c.prevSent, c.prevRecv, c.prevAt = sent, recv, now
		return u, nil
	}

	dSent := delta(c.prevSent, sent)
	dRecv := delta(c.prevRecv, recv)
	elapsed := now.Sub(c.prevAt).Seconds()
	c.prevSent, c.prevRecv, c.prevAt = sent, recv, now

	c.totalUp += float64(dSent) / gib
	c.totalDn += float64(dRecv) / gib

	if elapsed > 0 {
		u.BandwidthUp = domain.Round2(float64(dSent) / elapsed / mib)
		u.BandwidthDown = domain.Round2(float64(dRecv) / elapsed / mib)
	}
	u.TotalUp = round3(c.totalUp)
	u.TotalDown = round3(c.totalDn)
	return u, nil
}

func (c *TrafficCollector) read(ctx context.Context) (sent, recv uint64, err error) {
	stats, err := c.counters(ctx, c.iface != "")
	if err != nil {
		return 0, 0, fmt.Errorf("read network counters: %w", err)
	}
	if c.iface == "" {
		if len(stats) == 0 {
			return 0, 0, fmt.Errorf("no network counters available")
		}
		return stats[0].BytesSent, stats[0].BytesRecv, nil
	}
	for _, s := range stats {
		if s.Name == c.iface {
			return s.BytesSent, s.BytesRecv, nil
		}
	}
	return 0, 0, fmt.Errorf("interface %q not found", c.iface)
}

// delta is cur-prev, or cur when the kernel counter wrapped or reset.
func delta(prev, cur uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
