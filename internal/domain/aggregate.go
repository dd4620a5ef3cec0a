package domain

import "time"

type StatusCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
	Problem int `json:"problem"`
}

// Add counts one service in status s.
func (c *StatusCounts) Add(s Status) {
	c.Total++
	switch s {
	case StatusOnline:
		c.Online++
	case StatusProblem:
		c.Problem++
	default:
		c.Offline++
	}
}

// TrafficWindow is the volume moved during the aggregation window, in GB.
type TrafficWindow struct {
	UploadGB   float64 `json:"upload_gb"`
	DownloadGB float64 `json:"download_gb"`
	TotalGB    float64 `json:"total_gb"`
}

// Bandwidth is the sum of current rates across services, in MB/s.
type Bandwidth struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

type StorageRollup struct {
	Capacity     float64 `json:"capacity"`
	Used         float64 `json:"used"`
	Free         float64 `json:"free"`
	RaidHealthy  int     `json:"raid_healthy"`
	RaidDegraded int     `json:"raid_degraded"`
	RaidFailed   int     `json:"raid_failed"`
}

// AggregateSnapshot is one cross-service rollup. It is built once and never
// mutated; the aggregator publishes a new one each cycle.
type AggregateSnapshot struct {
	Services       StatusCounts  `json:"services"`
	PeakConcurrent int64         `json:"peak_concurrent"`
	Traffic24h     TrafficWindow `json:"traffic_24h"`
	Bandwidth      Bandwidth     `json:"bandwidth"`
	Storage        StorageRollup `json:"storage"`
	ComputedAt     time.Time     `json:"computed_at"`
}

// ActivityUpdate reports how many sessions a media backend is serving.
type ActivityUpdate struct {
	ServiceID string `json:"service_id"`
	Sessions  int64  `json:"sessions"`
}

// Validate rejects negative session counts.
func (u ActivityUpdate) Validate() error {
	if u.ServiceID == "" {
		return Invalid("service_id is required")
	}
	if u.Sessions < 0 {
		return Invalid("sessions must not be negative")
	}
	return nil
}

// Ack is returned to agents for accepted pushes.
type Ack struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Duplicate bool   `json:"duplicate,omitempty"`
}
