package monitor

import (
	"sync"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
)

// Snapshots holds the current traffic and storage state of every service.
// Entries are overwritten on each accepted update and never merged.
type Snapshots struct {
	mu      sync.RWMutex
	traffic map[string]domain.TrafficSnapshot
	storage map[string]domain.StorageSnapshot
}

func NewSnapshots() *Snapshots {
	return &Snapshots{
		traffic: make(map[string]domain.TrafficSnapshot),
		storage: make(map[string]domain.StorageSnapshot),
	}
}

func (s *Snapshots) SetTraffic(snap domain.TrafficSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traffic[snap.ServiceID] = snap
}

func (s *Snapshots) SetStorage(snap domain.StorageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[snap.ServiceID] = snap
}

// Traffic returns the current traffic of a service.
func (s *Snapshots) Traffic(id string) (domain.TrafficSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.traffic[id]
	return snap, ok
}

// Storage returns the current storage layout of a service.
func (s *Snapshots) Storage(id string) (domain.StorageSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.storage[id]
	return snap, ok
}

// AllTraffic returns a copy of every traffic snapshot keyed by service id.
func (s *Snapshots) AllTraffic() map[string]domain.TrafficSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.TrafficSnapshot, len(s.traffic))
	for id, snap := range s.traffic {
		out[id] = snap
	}
	return out
}

// AllStorage returns a copy of every storage snapshot keyed by service id.
func (s *Snapshots) AllStorage() map[string]domain.StorageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.StorageSnapshot, len(s.storage))
	for id, snap := range s.storage {
		out[id] = snap
	}
	return out
}

// Restore loads persisted snapshots, keeping any newer in-memory ones.
func (s *Snapshots) Restore(traffic map[string]domain.TrafficSnapshot, storage map[string]domain.StorageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, snap := range traffic {
		if cur, ok := s.traffic[id]; !ok || cur.LastUpdated.Before(snap.LastUpdated) {
			s.traffic[id] = snap
		}
	}
	for id, snap := range storage {
		if cur, ok := s.storage[id]; !ok || cur.LastUpdated.Before(snap.LastUpdated) {
			s.storage[id] = snap
		}
	}
}

// Drop forgets both snapshots of a service.
func (s *Snapshots) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.traffic, id)
	delete(s.storage, id)
}
