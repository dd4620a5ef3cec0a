package domain

import "time"

// SampleKind names one of the per-service series.
type SampleKind string

const (
	KindResponse SampleKind = "response"
	KindTraffic  SampleKind = "traffic"
	KindStorage  SampleKind = "storage"
)

// SampleKinds lists every kind, in a stable order.
var SampleKinds = []SampleKind{KindResponse, KindTraffic, KindStorage}

// IsValid reports whether k is a known kind.
func (k SampleKind) IsValid() bool {
	switch k {
	case KindResponse, KindTraffic, KindStorage:
		return true
	}
	return false
}

// Sample is one immutable point in a (service, kind) series.
// Exactly one of the value blocks is set, matching Kind.
type Sample struct {
	ServiceID string     `json:"service_id"`
	Kind      SampleKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`

	Response *ResponseValues `json:"response,omitempty"`
	Traffic  *TrafficValues  `json:"traffic,omitempty"`
	Storage  *StorageValues  `json:"storage,omitempty"`
}

type ResponseValues struct {
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// TrafficValues carries rates in MB/s and cumulative counters in GB.
type TrafficValues struct {
	BandwidthUp    float64 `json:"bandwidth_up"`
	BandwidthDown  float64 `json:"bandwidth_down"`
	CumulativeUp   float64 `json:"cumulative_up"`
	CumulativeDown float64 `json:"cumulative_down"`
}

// StorageValues is the rollup of one storage update, sizes in GB.
type StorageValues struct {
	TotalCapacity float64 `json:"total_capacity"`
	Used          float64 `json:"used"`
	Free          float64 `json:"free"`
	AvgUsagePct   float64 `json:"avg_usage_pct"`
	RaidHealthy   int     `json:"raid_healthy"`
	RaidDegraded  int     `json:"raid_degraded"`
	RaidFailed    int     `json:"raid_failed"`
}

// MaxClockSkew is how far ahead of the server clock a pushed timestamp may be.
const MaxClockSkew = time.Minute

// NormalizeTimestamp truncates t to the millisecond resolution the durable
// store keeps, in UTC.
func NormalizeTimestamp(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// NewResponseSample builds a response-time sample.
func NewResponseSample(serviceID string, at time.Time, ms float64) Sample {
	return Sample{
		ServiceID: serviceID,
		Kind:      KindResponse,
		Timestamp: NormalizeTimestamp(at),
		Response:  &ResponseValues{ResponseTimeMs: ms},
	}
}
