package domain

import (
	"math"
	"strings"
	"time"
)

// Array and pool health values reported by storage agents.
const (
	RaidHealthy    = "healthy"
	RaidDegraded   = "degraded"
	RaidRecovering = "recovering"
	RaidFailed     = "failed"
)

// DiskUsage describes one monitored mount, sizes in GB.
type DiskUsage struct {
	Path    string  `json:"path"`
	Total   float64 `json:"total"`
	Used    float64 `json:"used"`
	Free    float64 `json:"free"`
	Percent float64 `json:"percent"`
}

type RaidDisk struct {
	Device string `json:"device"`
	State  string `json:"state"`
	Role   string `json:"role"`
}

// RaidArray is an mdadm array.
type RaidArray struct {
	Device        string     `json:"device"`
	Status        string     `json:"status"`
	Level         string     `json:"level"`
	Devices       int        `json:"devices"`
	ActiveDevices int        `json:"active_devices"`
	FailedDevices int        `json:"failed_devices"`
	SpareDevices  int        `json:"spare_devices"`
	Disks         []RaidDisk `json:"disks,omitempty"`
}

type ZfsDisk struct {
	Device      string `json:"device"`
	State       string `json:"state"`
	VdevType    string `json:"vdev_type,omitempty"`
	ReadErrors  *int   `json:"read_errors,omitempty"`
	WriteErrors *int   `json:"write_errors,omitempty"`
	CksumErrors *int   `json:"cksum_errors,omitempty"`
}

type ZfsPool struct {
	Pool      string    `json:"pool"`
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Type      string    `json:"type,omitempty"`
	Scan      string    `json:"scan,omitempty"`
	Errors    string    `json:"errors,omitempty"`
	Size      string    `json:"size,omitempty"`
	Allocated string    `json:"allocated,omitempty"`
	Free      string    `json:"free,omitempty"`
	Capacity  string    `json:"capacity,omitempty"`
	Disks     []ZfsDisk `json:"disks,omitempty"`
}

type DiskInfo struct {
	Device     string  `json:"device"`
	Mountpoint string  `json:"mountpoint"`
	Fstype     string  `json:"fstype"`
	ReadBytes  *uint64 `json:"read_bytes,omitempty"`
	WriteBytes *uint64 `json:"write_bytes,omitempty"`
	ReadCount  *uint64 `json:"read_count,omitempty"`
	WriteCount *uint64 `json:"write_count,omitempty"`
}

// StorageUpdate is the body pushed by a storage agent.
type StorageUpdate struct {
	ServiceID    string      `json:"service_id"`
	Hostname     string      `json:"hostname"`
	Timestamp    *time.Time  `json:"timestamp,omitempty"`
	StoragePaths []DiskUsage `json:"storage_paths"`
	RaidArrays   []RaidArray `json:"raid_arrays,omitempty"`
	ZfsPools     []ZfsPool   `json:"zfs_pools,omitempty"`
	Disks        []DiskInfo  `json:"disks,omitempty"`
}

// Validate rejects layouts that cannot be real.
func (u StorageUpdate) Validate() error {
	if strings.TrimSpace(u.ServiceID) == "" {
		return Invalid("service_id is required")
	}
	for _, p := range u.StoragePaths {
		if p.Path == "" {
			return Invalid("storage path without a name")
		}
		if badNumber(p.Total) || badNumber(p.Used) || badNumber(p.Free) || badNumber(p.Percent) {
			return Invalid("storage path %s has a negative or non-finite size", p.Path)
		}
		if p.Used > p.Total+0.01 {
			return Invalid("storage path %s uses more than its capacity", p.Path)
		}
	}
	return nil
}

func badNumber(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}

// DeriveStorage rolls an update's paths, arrays and pools into one sample value.
// Arrays and pools that are neither healthy, degraded nor recovering count as failed.
func DeriveStorage(paths []DiskUsage, arrays []RaidArray, pools []ZfsPool) StorageValues {
	var v StorageValues
	var pct float64
	for _, p := range paths {
		v.TotalCapacity += p.Total
		v.Used += p.Used
		v.Free += p.Free
		pct += p.Percent
	}
	if len(paths) > 0 {
		v.AvgUsagePct = pct / float64(len(paths))
	}

	count := func(status string) {
		switch strings.ToLower(status) {
		case RaidHealthy:
			v.RaidHealthy++
		case RaidDegraded:
			v.RaidDegraded++
		case RaidRecovering:
		default:
			v.RaidFailed++
		}
	}
	for _, a := range arrays {
		count(a.Status)
	}
	for _, p := range pools {
		count(p.Status)
	}

	v.TotalCapacity = Round2(v.TotalCapacity)
	v.Used = Round2(v.Used)
	v.Free = Round2(v.Free)
	v.AvgUsagePct = Round2(v.AvgUsagePct)
	return v
}

// Sample derives the storage sample for u at ts.
func (u StorageUpdate) Sample(ts time.Time) Sample {
	v := DeriveStorage(u.StoragePaths, u.RaidArrays, u.ZfsPools)
	return Sample{ServiceID: u.ServiceID, Kind: KindStorage, Timestamp: ts, Storage: &v}
}

// StorageSnapshot is the current storage layout of one service.
type StorageSnapshot struct {
	ServiceID    string      `json:"service_id"`
	Hostname     string      `json:"hostname"`
	StoragePaths []DiskUsage `json:"storage_paths"`
	RaidArrays   []RaidArray `json:"raid_arrays"`
	ZfsPools     []ZfsPool   `json:"zfs_pools"`
	Disks        []DiskInfo  `json:"disks"`
	LastUpdated  time.Time   `json:"last_updated"`
}

// Snapshot converts u into the current-state view.
func (u StorageUpdate) Snapshot(ts time.Time) StorageSnapshot {
	return StorageSnapshot{
		ServiceID:    u.ServiceID,
		Hostname:     u.Hostname,
		StoragePaths: nonNil(u.StoragePaths),
		RaidArrays:   nonNil(u.RaidArrays),
		ZfsPools:     nonNil(u.ZfsPools),
		Disks:        nonNil(u.Disks),
		LastUpdated:  ts,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// StorageSummary rolls current storage up across services.
type StorageSummary struct {
	TotalServices       int     `json:"total_services"`
	ServicesWithStorage int     `json:"services_with_storage"`
	TotalCapacity       float64 `json:"total_capacity"`
	TotalUsed           float64 `json:"total_used"`
	TotalFree           float64 `json:"total_free"`
	AverageUsagePercent float64 `json:"average_usage_percent"`
	TotalRaidArrays     int     `json:"total_raid_arrays"`
	HealthyRaids        int     `json:"healthy_raids"`
	DegradedRaids       int     `json:"degraded_raids"`
	FailedRaids         int     `json:"failed_raids"`
	RecoveringRaids     int     `json:"recovering_raids"`
	UnmountedPaths      int     `json:"unmounted_paths"`
}

// SummarizeStorage builds the summary over services using their snapshots.
// A path reporting zero capacity is counted as unmounted.
func SummarizeStorage(services []*Service, snaps map[string]StorageSnapshot) StorageSummary {
	sum := StorageSummary{TotalServices: len(services)}
	for _, svc := range services {
		snap, ok := snaps[svc.ID]
		if !ok {
			continue
		}
		sum.ServicesWithStorage++
		for _, p := range snap.StoragePaths {
			sum.TotalCapacity += p.Total
			sum.TotalUsed += p.Used
			sum.TotalFree += p.Free
			if p.Total == 0 {
				sum.UnmountedPaths++
			}
		}
		v := DeriveStorage(nil, snap.RaidArrays, snap.ZfsPools)
		sum.TotalRaidArrays += len(snap.RaidArrays) + len(snap.ZfsPools)
		sum.HealthyRaids += v.RaidHealthy
		sum.DegradedRaids += v.RaidDegraded
		sum.FailedRaids += v.RaidFailed
		sum.RecoveringRaids += len(snap.RaidArrays) + len(snap.ZfsPools) - v.RaidHealthy - v.RaidDegraded - v.RaidFailed
	}
	if sum.TotalCapacity > 0 {
		sum.AverageUsagePercent = Round2(sum.TotalUsed / sum.TotalCapacity * 100)
	}
	sum.TotalCapacity = Round2(sum.TotalCapacity)
	sum.TotalUsed = Round2(sum.TotalUsed)
	sum.TotalFree = Round2(sum.TotalFree)
	return sum
}
