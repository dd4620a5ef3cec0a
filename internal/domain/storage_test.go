package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveStorage(t *testing.T) {
	paths := []DiskUsage{
		{Path: "/mnt/a", Total: 1000, Used: 250, Free: 750, Percent: 25},
		{Path: "/mnt/b", Total: 500, Used: 375, Free: 125, Percent: 75},
	}
	arrays := []RaidArray{
		{Device: "md0", Status: "healthy"},
		{Device: "md1", Status: "degraded"},
		{Device: "md2", Status: "recovering"},
	}
	pools := []ZfsPool{
		{Pool: "tank", Status: "healthy"},
		{Pool: "backup", Status: "failed"},
		{Pool: "scratch", Status: "unknown"},
	}

	got := DeriveStorage(paths, arrays, pools)

	want := StorageValues{
		TotalCapacity: 1500,
		Used:          625,
		Free:          875,
		AvgUsagePct:   50,
		RaidHealthy:   2,
		RaidDegraded:  1,
		RaidFailed:    2,
	}
	if got != want {
		t.Errorf("DeriveStorage() = %+v, want %+v", got, want)
	}
}

func TestDeriveStorageEmpty(t *testing.T) {
	got := DeriveStorage(nil, nil, nil)
	if got != (StorageValues{}) {
		t.Errorf("DeriveStorage(nil) = %+v, want zero value", got)
	}
}

func TestStorageUpdateValidate(t *testing.T) {
	tests := []struct {
		name    string
		update  StorageUpdate
		wantErr bool
	}{
		{
			name:   "valid",
			update: StorageUpdate{ServiceID: "nas", StoragePaths: []DiskUsage{{Path: "/", Total: 10, Used: 5, Free: 5, Percent: 50}}},
		},
		{
			name:    "missing service id",
			update:  StorageUpdate{},
			wantErr: true,
		},
		{
			name:    "negative size",
			update:  StorageUpdate{ServiceID: "nas", StoragePaths: []DiskUsage{{Path: "/", Total: -1}}},
			wantErr: true,
		},
		{
			name:    "used above total",
			update:  StorageUpdate{ServiceID: "nas", StoragePaths: []DiskUsage{{Path: "/", Total: 10, Used: 12}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidUpdate) {
				t.Errorf("Validate() error should wrap ErrInvalidUpdate, got %v", err)
			}
		})
	}
}

func TestSummarizeStorage(t *testing.T) {
	services := []*Service{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}, {ID: "c", Name: "c"}}
	snaps := map[string]StorageSnapshot{
		"a": {
			StoragePaths: []DiskUsage{{Path: "/", Total: 100, Used: 40, Free: 60}, {Path: "/mnt/usb", Total: 0}},
			RaidArrays:   []RaidArray{{Status: "healthy"}, {Status: "recovering"}},
			LastUpdated:  time.Now(),
		},
		"b": {
			StoragePaths: []DiskUsage{{Path: "/", Total: 100, Used: 60, Free: 40}},
			ZfsPools:     []ZfsPool{{Status: "degraded"}},
			LastUpdated:  time.Now(),
		},
	}

	sum := SummarizeStorage(services, snaps)

	if sum.TotalServices != 3 || sum.ServicesWithStorage != 2 {
		t.Errorf("service counts = %d/%d, want 3/2", sum.TotalServices, sum.ServicesWithStorage)
	}
	if sum.TotalCapacity != 200 || sum.TotalUsed != 100 || sum.TotalFree != 100 {
		t.Errorf("totals = %v/%v/%v, want 200/100/100", sum.TotalCapacity, sum.TotalUsed, sum.TotalFree)
	}
	if sum.AverageUsagePercent != 50 {
		t.Errorf("AverageUsagePercent = %v, want 50", sum.AverageUsagePercent)
	}
	if sum.UnmountedPaths != 1 {
		t.Errorf("UnmountedPaths = %d, want 1", sum.UnmountedPaths)
	}
	if sum.TotalRaidArrays != 3 || sum.HealthyRaids != 1 || sum.DegradedRaids != 1 || sum.RecoveringRaids != 1 || sum.FailedRaids != 0 {
		t.Errorf("raid counts = %+v", sum)
	}
}

func TestSummarizeTraffic(t *testing.T) {
	services := []*Service{{ID: "a", Name: "a"}, {ID: "b", Name: "b"}}
	snaps := map[string]TrafficSnapshot{
		"a": {BandwidthUp: 1.5, BandwidthDown: 2, TotalUp: 10, TotalDown: 20},
		"b": {BandwidthUp: 0.5, BandwidthDown: 8, TotalUp: 1, TotalDown: 2},
	}

	sum := SummarizeTraffic(services, snaps)

	if sum.ServicesWithTraffic != 2 {
		t.Errorf("ServicesWithTraffic = %d, want 2", sum.ServicesWithTraffic)
	}
	if sum.TotalBandwidthUp != 2 || sum.TotalBandwidthDown != 10 {
		t.Errorf("bandwidth = %v/%v, want 2/10", sum.TotalBandwidthUp, sum.TotalBandwidthDown)
	}
	if sum.TotalTrafficUp != 11 || sum.TotalTrafficDown != 22 {
		t.Errorf("traffic = %v/%v, want 11/22", sum.TotalTrafficUp, sum.TotalTrafficDown)
	}
	if len(sum.Services) != 2 || sum.Services[0].ID != "b" {
		t.Errorf("services should be ordered by download rate, got %+v", sum.Services)
	}
}

func TestTrafficUpdateValidate(t *testing.T) {
	if err := (TrafficUpdate{ServiceID: "x", BandwidthUp: 1}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (TrafficUpdate{ServiceID: "x", TotalDown: -3}).Validate(); err == nil {
		t.Error("Validate() should reject negative totals")
	}
	if err := (TrafficUpdate{}).Validate(); err == nil {
		t.Error("Validate() should reject a missing service id")
	}
}
