package scheduler

import (
	"context"
	"fmt"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/sources/homepage"
)

// ServiceSeeder accepts imported services
type ServiceSeeder interface {
	Seed(ctx context.Context, services []*domain.Service) error
}

// ServicesImporter seeds the registry from a Homepage services.yaml
type ServicesImporter struct {
	loader   *homepage.Loader
	mapper   *homepage.Mapper
	registry ServiceSeeder
	logger   logger.Logger
}

// NewServicesImporter creates a new importer for serviceFile
func NewServicesImporter(serviceFile string, registry ServiceSeeder, log logger.Logger) *ServicesImporter {
	return &ServicesImporter{
		loader:   homepage.NewLoader(serviceFile),
		mapper:   homepage.NewMapper(),
		registry: registry,
		logger:   log,
	}
}

// Import loads the file and upserts its services. Services already in the
// registry that the file no longer lists are left alone; removal is an
// explicit registry operation.
func (si *ServicesImporter) Import(ctx context.Context) error {
	si.logger.Info("importing services from file")

	config, err := si.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}

	services, err := si.mapper.MapServices(config)
	if err != nil {
		return fmt.Errorf("failed to map services: %w", err)
	}

	if err := si.registry.Seed(ctx, services); err != nil {
		return fmt.Errorf("failed to seed services: %w", err)
	}

	si.logger.Info("imported services from file",
		logger.Int("count", len(services)))
	return nil
}
