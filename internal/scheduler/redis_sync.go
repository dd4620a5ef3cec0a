package scheduler

import (
	"context"
	"fmt"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// ServiceLoader rebuilds the registry from the durable store
type ServiceLoader interface {
	Load(ctx context.Context) (int, error)
	IDs() []string
}

// SnapshotSource reads persisted current snapshots
type SnapshotSource interface {
	LoadSnapshots(ctx context.Context, ids []string) (map[string]domain.TrafficSnapshot, map[string]domain.StorageSnapshot, error)
}

// SnapshotSink receives restored snapshots
type SnapshotSink interface {
	Restore(traffic map[string]domain.TrafficSnapshot, storage map[string]domain.StorageSnapshot)
}

// HeadRestorer rebuilds the in-memory sample heads
type HeadRestorer interface {
	Restore(ctx context.Context, serviceIDs []string) error
}

// RedisSyncer restores in-memory state from Redis on startup
type RedisSyncer struct {
	services  ServiceLoader
	source    SnapshotSource
	snapshots SnapshotSink
	samples   HeadRestorer
	logger    logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(
	services ServiceLoader,
	source SnapshotSource,
	snapshots SnapshotSink,
	samples HeadRestorer,
	log logger.Logger,
) *RedisSyncer {
	return &RedisSyncer{
		services:  services,
		source:    source,
		snapshots: snapshots,
		samples:   samples,
		logger:    log,
	}
}

// Sync loads services, then their snapshots and sample heads. Only a failure
// to load services is fatal; the rest degrades to empty history.
func (rs *RedisSyncer) Sync(ctx context.Context) error {
	rs.logger.Info("syncing state from redis to memory")

	count, err := rs.services.Load(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		rs.logger.Info("no services found in redis")
		return nil
	}
	ids := rs.services.IDs()

	traffic, storage, err := rs.source.LoadSnapshots(ctx, ids)
	if err != nil {
		rs.logger.Warn("failed to restore snapshots", logger.Error(err))
	} else {
		rs.snapshots.Restore(traffic, storage)
	}

	if err := rs.samples.Restore(ctx, ids); err != nil {
		rs.logger.Warn("failed to restore sample history", logger.Error(fmt.Errorf("restore heads: %w", err)))
	}

	rs.logger.Info("synced state from redis",
		logger.Int("services", count),
		logger.Int("traffic_snapshots", len(traffic)),
		logger.Int("storage_snapshots", len(storage)))
	return nil
}
