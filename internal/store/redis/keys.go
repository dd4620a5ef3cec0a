package redis

import "github.com/cyb3rgh05t/komandorr/internal/domain"

const (
	// KeyPrefixService is the prefix for service keys
	KeyPrefixService = "komandorr:service:"
	// KeyPrefixSamples is the prefix for per (service, kind) sample sets
	KeyPrefixSamples = "komandorr:samples:"
	// KeyPrefixTraffic is the prefix for current traffic snapshots
	KeyPrefixTraffic = "komandorr:traffic:"
	// KeyPrefixStorage is the prefix for current storage snapshots
	KeyPrefixStorage = "komandorr:storage:"
	// KeyPrefixCache is the prefix for mirrored cache entries
	KeyPrefixCache = "komandorr:cache:"
	// KeyAllServices is the key for the set of all service IDs
	KeyAllServices = "komandorr:services:all"
	// KeyPeakConcurrency holds the highest session count ever reported
	KeyPeakConcurrency = "komandorr:activity:peak"
)

// ServiceKey returns the Redis key for a service by ID
func ServiceKey(id string) string {
	return KeyPrefixService + id
}

// SamplesKey returns the sorted set holding one series, scored by unix milliseconds
func SamplesKey(id string, kind domain.SampleKind) string {
	return KeyPrefixSamples + id + ":" + string(kind)
}

// TrafficKey returns the Redis key for a service's current traffic
func TrafficKey(id string) string {
	return KeyPrefixTraffic + id
}

// StorageKey returns the Redis key for a service's current storage layout
func StorageKey(id string) string {
	return KeyPrefixStorage + id
}

// CacheKey returns the Redis key mirroring one entry of a named cache
func CacheKey(cache, key string) string {
	return KeyPrefixCache + cache + ":" + key
}

// AllServicesKey returns the key for the set of all service IDs
func AllServicesKey() string {
	return KeyAllServices
}

// seriesKeys lists every key that belongs to a service besides its row
func seriesKeys(id string) []string {
	keys := make([]string, 0, len(domain.SampleKinds)+2)
	for _, kind := range domain.SampleKinds {
		keys = append(keys, SamplesKey(id, kind))
	}
	return append(keys, TrafficKey(id), StorageKey(id))
}
