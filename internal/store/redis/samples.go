package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
	"github.com/redis/go-redis/v9"
)

// Commit writes a batch in one MULTI/EXEC: the service row, current
// snapshots and samples land together, and every touched series is
// trimmed to the sample cap in the same transaction.
func (s *Store) Commit(ctx context.Context, b samples.Batch) error {
	type member struct {
		key   string
		score float64
		data  []byte
	}

	// Marshal everything up front so a bad value aborts before MULTI.
	var serviceData, trafficData, storageData []byte
	var err error
	if b.Service != nil {
		if serviceData, err = json.Marshal(b.Service); err != nil {
			return fmt.Errorf("failed to marshal service: %w", err)
		}
	}
	if b.Traffic != nil {
		if trafficData, err = json.Marshal(b.Traffic); err != nil {
			return fmt.Errorf("failed to marshal traffic snapshot: %w", err)
		}
	}
	if b.Storage != nil {
		if storageData, err = json.Marshal(b.Storage); err != nil {
			return fmt.Errorf("failed to marshal storage snapshot: %w", err)
		}
	}
	members := make([]member, 0, len(b.Samples))
	for _, smp := range b.Samples {
		data, err := json.Marshal(smp)
		if err != nil {
			return fmt.Errorf("failed to marshal sample: %w", err)
		}
		members = append(members, member{
			key:   SamplesKey(smp.ServiceID, smp.Kind),
			score: float64(smp.Timestamp.UnixMilli()),
			data:  data,
		})
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if b.Service != nil {
			pipe.Set(ctx, ServiceKey(b.Service.ID), serviceData, 0)
			pipe.SAdd(ctx, AllServicesKey(), b.Service.ID)
		}
		if b.Traffic != nil {
			pipe.Set(ctx, TrafficKey(b.Traffic.ServiceID), trafficData, 0)
		}
		if b.Storage != nil {
			pipe.Set(ctx, StorageKey(b.Storage.ServiceID), storageData, 0)
		}

		touched := make(map[string]struct{})
		for _, m := range members {
			pipe.ZAdd(ctx, m.key, redis.Z{Score: m.score, Member: m.data})
			touched[m.key] = struct{}{}
		}
		for key := range touched {
			pipe.ZRemRangeByRank(ctx, key, 0, int64(-(s.sampleCap + 1)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// LoadTail returns up to limit of the newest samples of a series, oldest first
func (s *Store) LoadTail(ctx context.Context, serviceID string, kind domain.SampleKind, limit int) ([]domain.Sample, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	raw, err := s.client.ZRevRange(ctx, SamplesKey(serviceID, kind), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}

	out := make([]domain.Sample, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var smp domain.Sample
		if err := json.Unmarshal([]byte(raw[i]), &smp); err != nil {
			continue
		}
		out = append(out, smp)
	}
	return out, nil
}

// Prune drops all but the newest keep samples of a series
func (s *Store) Prune(ctx context.Context, serviceID string, kind domain.SampleKind, keep int) (int64, error) {
	n, err := s.client.ZRemRangeByRank(ctx, SamplesKey(serviceID, kind), 0, int64(-(keep + 1))).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return n, nil
}

// CountSamples returns the number of persisted samples of a series
func (s *Store) CountSamples(ctx context.Context, serviceID string, kind domain.SampleKind) (int64, error) {
	return s.client.ZCard(ctx, SamplesKey(serviceID, kind)).Result()
}

// DeleteSeries removes every series and snapshot of a service
func (s *Store) DeleteSeries(ctx context.Context, serviceID string) error {
	if err := s.client.Del(ctx, seriesKeys(serviceID)...).Err(); err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}
	return nil
}

// LoadSnapshots returns the persisted current snapshots of the given services
func (s *Store) LoadSnapshots(ctx context.Context, ids []string) (map[string]domain.TrafficSnapshot, map[string]domain.StorageSnapshot, error) {
	traffic := make(map[string]domain.TrafficSnapshot, len(ids))
	storage := make(map[string]domain.StorageSnapshot, len(ids))
	if len(ids) == 0 {
		return traffic, storage, nil
	}

	pipe := s.client.Pipeline()
	trafficCmds := make([]*redis.StringCmd, len(ids))
	storageCmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		trafficCmds[i] = pipe.Get(ctx, TrafficKey(id))
		storageCmds[i] = pipe.Get(ctx, StorageKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	for i, id := range ids {
		if data, err := trafficCmds[i].Bytes(); err == nil {
			var snap domain.TrafficSnapshot
			if json.Unmarshal(data, &snap) == nil {
				traffic[id] = snap
			}
		}
		if data, err := storageCmds[i].Bytes(); err == nil {
			var snap domain.StorageSnapshot
			if json.Unmarshal(data, &snap) == nil {
				storage[id] = snap
			}
		}
	}
	return traffic, storage, nil
}
