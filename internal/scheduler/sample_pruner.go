package scheduler

import (
	"context"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

const (
	// DefaultPruneInterval is how often durable series are trimmed
	DefaultPruneInterval = time.Hour
)

// PrunableStore is the part of the sample store the pruner drives
type PrunableStore interface {
	PruneAll(ctx context.Context, serviceIDs []string) (int64, error)
	ServiceIDs() []string
	DropService(ctx context.Context, serviceID string) error
}

// ServiceIDLister lists the ids of registered services
type ServiceIDLister interface {
	IDs() []string
}

// SamplePruner trims durable series to their cap and removes series left
// behind by services that no longer exist
type SamplePruner struct {
	store    PrunableStore
	services ServiceIDLister
	logger   logger.Logger
}

// NewSamplePruner creates a new sample pruner
func NewSamplePruner(store PrunableStore, services ServiceIDLister, log logger.Logger) *SamplePruner {
	return &SamplePruner{
		store:    store,
		services: services,
		logger:   log,
	}
}

// Collect runs one pruning pass
func (sp *SamplePruner) Collect(ctx context.Context) error {
	ids := sp.services.IDs()

	removed, err := sp.store.PruneAll(ctx, ids)
	if err != nil {
		sp.logger.Warn("pruning finished with errors", logger.Error(err))
	}

	orphans := sp.collectOrphans(ctx, ids)

	if removed > 0 || orphans > 0 {
		sp.logger.Info("sample pruning completed",
			logger.Int64("samples_removed", removed),
			logger.Int("orphaned_services", orphans))
	} else {
		sp.logger.Debug("no samples to prune")
	}
	return nil
}

// collectOrphans drops series of ids unknown to the registry
func (sp *SamplePruner) collectOrphans(ctx context.Context, known []string) int {
	registered := make(map[string]bool, len(known))
	for _, id := range known {
		registered[id] = true
	}

	dropped := 0
	for _, id := range sp.store.ServiceIDs() {
		if registered[id] {
			continue
		}
		if err := sp.store.DropService(ctx, id); err != nil {
			sp.logger.Warn("failed to drop orphaned series",
				logger.String("service_id", id),
				logger.Error(err))
			continue
		}
		dropped++
	}
	return dropped
}
