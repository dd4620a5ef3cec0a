package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCacheTTL is how long mirrored cache entries survive in Redis
	DefaultCacheTTL = 24 * time.Hour
)

// Store handles Redis operations for services, samples, snapshots and the cache mirror
type Store struct {
	client    *redis.Client
	sampleCap int
	cacheTTL  time.Duration
}

// NewStore creates a new Redis store keeping at most sampleCap samples per series
func NewStore(client *redis.Client, sampleCap int) *Store {
	if sampleCap <= 0 {
		sampleCap = samples.DefaultDurableCap
	}
	return &Store{
		client:    client,
		sampleCap: sampleCap,
		cacheTTL:  DefaultCacheTTL,
	}
}

// WithCacheTTL overrides the lifetime of mirrored cache entries
func (s *Store) WithCacheTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

// SaveService stores a service in Redis
func (s *Store) SaveService(ctx context.Context, service *domain.Service) error {
	data, err := json.Marshal(service)
	if err != nil {
		return fmt.Errorf("failed to marshal service: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ServiceKey(service.ID), data, 0)
		pipe.SAdd(ctx, AllServicesKey(), service.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

// GetService retrieves a service from Redis by ID
func (s *Store) GetService(ctx context.Context, id string) (*domain.Service, error) {
	data, err := s.client.Get(ctx, ServiceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrServiceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	var service domain.Service
	if err := json.Unmarshal(data, &service); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service: %w", err)
	}

	return &service, nil
}

// GetAllServices retrieves all services from Redis
func (s *Store) GetAllServices(ctx context.Context) ([]*domain.Service, error) {
	ids, err := s.client.SMembers(ctx, AllServicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get service IDs: %w", err)
	}

	if len(ids) == 0 {
		return []*domain.Service{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ServiceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	services := make([]*domain.Service, 0, len(ids))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Member of the set without a row, skip it
			continue
		}
		var service domain.Service
		if err := json.Unmarshal([]byte(raw), &service); err != nil {
			continue
		}
		if !service.Status.IsValid() {
			service.Status = domain.StatusOffline
		}
		services = append(services, &service)
	}

	return services, nil
}

// DeleteService removes a service row from Redis
func (s *Store) DeleteService(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ServiceKey(id))
		pipe.SRem(ctx, AllServicesKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

// SaveServicesMany stores services in one transaction, so an import is
// either fully persisted or not at all
func (s *Store) SaveServicesMany(ctx context.Context, services []*domain.Service) error {
	if len(services) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()

	for _, service := range services {
		data, err := json.Marshal(service)
		if err != nil {
			return fmt.Errorf("failed to marshal service %s: %w", service.ID, err)
		}

		pipe.Set(ctx, ServiceKey(service.ID), data, 0)
		pipe.SAdd(ctx, AllServicesKey(), service.ID)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save services: %w", err)
	}

	return nil
}
