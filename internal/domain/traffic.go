package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// TrafficUpdate is the body pushed by a traffic agent.
// Rates are MB/s, totals are GB since the agent started.
type TrafficUpdate struct {
	ServiceID     string     `json:"service_id"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	BandwidthUp   float64    `json:"bandwidth_up"`
	BandwidthDown float64    `json:"bandwidth_down"`
	TotalUp       float64    `json:"total_up"`
	TotalDown     float64    `json:"total_down"`
}

// Validate rejects updates that cannot describe real traffic.
func (u TrafficUpdate) Validate() error {
	if strings.TrimSpace(u.ServiceID) == "" {
		return Invalid("service_id is required")
	}
	for name, v := range map[string]float64{
		"bandwidth_up":   u.BandwidthUp,
		"bandwidth_down": u.BandwidthDown,
		"total_up":       u.TotalUp,
		"total_down":     u.TotalDown,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Invalid("%s must be a non-negative number", name)
		}
	}
	return nil
}

// Sample derives the traffic sample for u at ts.
func (u TrafficUpdate) Sample(ts time.Time) Sample {
	return Sample{
		ServiceID: u.ServiceID,
		Kind:      KindTraffic,
		Timestamp: ts,
		Traffic: &TrafficValues{
			BandwidthUp:    u.BandwidthUp,
			BandwidthDown:  u.BandwidthDown,
			CumulativeUp:   u.TotalUp,
			CumulativeDown: u.TotalDown,
		},
	}
}

// TrafficSnapshot is the current traffic of one service.
type TrafficSnapshot struct {
	ServiceID     string    `json:"service_id"`
	BandwidthUp   float64   `json:"bandwidth_up"`
	BandwidthDown float64   `json:"bandwidth_down"`
	TotalUp       float64   `json:"total_up"`
	TotalDown     float64   `json:"total_down"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Snapshot converts u into the current-state view.
func (u TrafficUpdate) Snapshot(ts time.Time) TrafficSnapshot {
	return TrafficSnapshot{
		ServiceID:     u.ServiceID,
		BandwidthUp:   u.BandwidthUp,
		BandwidthDown: u.BandwidthDown,
		TotalUp:       u.TotalUp,
		TotalDown:     u.TotalDown,
		LastUpdated:   ts,
	}
}

// ServiceTraffic is one row of the traffic summary.
type ServiceTraffic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	TrafficSnapshot
}

// TrafficSummary rolls current traffic up across services.
type TrafficSummary struct {
	TotalServices       int              `json:"total_services"`
	ServicesWithTraffic int              `json:"services_with_traffic"`
	TotalBandwidthUp    float64          `json:"total_bandwidth_up"`
	TotalBandwidthDown  float64          `json:"total_bandwidth_down"`
	TotalTrafficUp      float64          `json:"total_traffic_up"`
	TotalTrafficDown    float64          `json:"total_traffic_down"`
	Services            []ServiceTraffic `json:"services"`
}

// SummarizeTraffic builds the summary over services using their snapshots.
// Rows are ordered by download rate, busiest first.
func SummarizeTraffic(services []*Service, snaps map[string]TrafficSnapshot) TrafficSummary {
	sum := TrafficSummary{TotalServices: len(services), Services: []ServiceTraffic{}}
	for _, svc := range services {
		snap, ok := snaps[svc.ID]
		if !ok {
			continue
		}
		sum.ServicesWithTraffic++
		sum.TotalBandwidthUp += snap.BandwidthUp
		sum.TotalBandwidthDown += snap.BandwidthDown
		sum.TotalTrafficUp += snap.TotalUp
		sum.TotalTrafficDown += snap.TotalDown
		sum.Services = append(sum.Services, ServiceTraffic{ID: svc.ID, Name: svc.Name, TrafficSnapshot: snap})
	}
	sort.SliceStable(sum.Services, func(i, j int) bool {
		return sum.Services[i].BandwidthDown > sum.Services[j].BandwidthDown
	})
	sum.TotalBandwidthUp = Round2(sum.TotalBandwidthUp)
	sum.TotalBandwidthDown = Round2(sum.TotalBandwidthDown)
	sum.TotalTrafficUp = Round2(sum.TotalTrafficUp)
	sum.TotalTrafficDown = Round2(sum.TotalTrafficDown)
	return sum
}

// Round2 rounds v to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
