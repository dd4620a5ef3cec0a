package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// StorageCollector reports mount usage, mdadm arrays and block devices.
type StorageCollector struct {
	serviceID  string
	paths      []string
	mdstatPath string
	logger     logger.Logger
	now        func() time.Time

	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
	ioCounters func(ctx context.Context, names ...string) (map[string]disk.IOCountersStat, error)
	hostname   func(ctx context.Context) (string, error)
}

// NewStorageCollector reports paths, or every mounted partition when paths
// is empty. An empty mdstatPath skips RAID detection.
func NewStorageCollector(serviceID string, paths []string, mdstatPath string, log logger.Logger) *StorageCollector {
	return &StorageCollector{
		serviceID:  serviceID,
		paths:      paths,
		mdstatPath: mdstatPath,
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
		ioCounters: disk.IOCountersWithContext,
		hostname:   hostHostname,
	}
}

func hostHostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return os.Hostname()
	}
	return info.Hostname, nil
}

// Collect gathers one storage update. Paths that cannot be read are skipped
// and logged; the update fails only when nothing at all could be measured.
func (c *StorageCollector) Collect(ctx context.Context) (domain.StorageUpdate, error) {
	now := c.now()
	u := domain.StorageUpdate{ServiceID: c.serviceID, Timestamp: &now}

	if name, err := c.hostname(ctx); err == nil {
		u.Hostname = name
	}

	parts, err := c.partitions(ctx, false)
	if err != nil {
		c.logger.Warn("failed to list partitions", logger.Error(err))
	}

	paths := c.paths
	if len(paths) == 0 {
		for _, p := range parts {
			paths = append(paths, p.Mountpoint)
		}
	}
	for _, p := range paths {
		st, err := c.usage(ctx, p)
		if err != nil {
			c.logger.Warn("failed to read disk usage", logger.String("path", p), logger.Error(err))
			continue
		}
		u.StoragePaths = append(u.StoragePaths, diskUsage(p, st))
	}

	if c.mdstatPath != "" {
		arrays, err := c.readMdstat()
		if err != nil {
			c.logger.Warn("failed to read raid status", logger.String("path", c.mdstatPath), logger.Error(err))
		}
		u.RaidArrays = arrays
	}

	u.Disks = c.disks(ctx, parts)

	if len(u.StoragePaths) == 0 && len(u.RaidArrays) == 0 && len(u.Disks) == 0 {
		return domain.StorageUpdate{}, fmt.Errorf("no storage could be measured")
	}
	return u, nil
}

func (c *StorageCollector) readMdstat() ([]domain.RaidArray, error) {
	f, err := os.Open(c.mdstatPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseMdstat(f)
}

// disks lists real block devices with their IO counters when available.
func (c *StorageCollector) disks(ctx context.Context, parts []disk.PartitionStat) []domain.DiskInfo {
	counters, err := c.ioCounters(ctx)
	if err != nil {
		c.logger.Debug("disk io counters unavailable", logger.Error(err))
	}

	seen := make(map[string]bool)
	var out []domain.DiskInfo
	for _, p := range parts {
		if !strings.HasPrefix(p.Device, "/dev/") || seen[p.Device] {
			continue
		}
		seen[p.Device] = true

		d := domain.DiskInfo{Device: p.Device, Mountpoint: p.Mountpoint, Fstype: p.Fstype}
		name := filepath.Base(p.Device)
		ctr, ok := counters[name]
		if !ok {
			ctr, ok = counters[baseDevice(name)]
		}
		if ok {
			d.ReadBytes, d.WriteBytes = &ctr.ReadBytes, &ctr.WriteBytes
			d.ReadCount, d.WriteCount = &ctr.ReadCount, &ctr.WriteCount
		}
		out = append(out, d)
	}
	return out
}

// baseDevice strips the partition suffix: sda1 -> sda, nvme0n1p2 -> nvme0n1.
func baseDevice(name string) string {
	if strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "mmcblk") {
		if i := strings.LastIndex(name, "p"); i > 0 && isDigits(name[i+1:]) {
			return name[:i]
		}
		return name
	}
	return strings.TrimRight(name, "0123456789")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func diskUsage(path string, st *disk.UsageStat) domain.DiskUsage {
	return domain.DiskUsage{
		Path:    path,
		Total:   domain.Round2(float64(st.Total) / gib),
		Used:    domain.Round2(float64(st.Used) / gib),
		Free:    domain.Round2(float64(st.Free) / gib),
		Percent: domain.Round2(st.UsedPercent),
	}
}
