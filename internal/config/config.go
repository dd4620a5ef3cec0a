package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8000"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	ServiceFile    string        // optional homepage services.yaml used to seed the registry
	ImportInterval time.Duration // interval to re-import ServiceFile (0 = startup and manual only)

	// Prober
	ProbeInterval      time.Duration // time between sweeps (default: 10s)
	ProbeTimeout       time.Duration // per-check timeout (default: 10s)
	ProbeConcurrency   int           // max in-flight checks per sweep (0 = one per service)
	ProbeSlowThreshold time.Duration // responding but slower => problem (0 = disabled)
	ProbeSkipTLSVerify bool          // accept self-signed certificates on probed services

	// Samples
	HeadCap       int           // samples kept in memory per series (default: 100)
	DurableCap    int           // samples kept in redis per series (default: 1000)
	PruneInterval time.Duration // interval to trim durable series (default: 1h)

	// Aggregation and caches
	AggregateInterval time.Duration // time between aggregate rollups (default: 60s)
	WarmInterval      time.Duration // cache warmer tick (default: 2s)
	WarmThreshold     float64       // fraction of ttl after which entries are refreshed (default: 0.8)
	ActivityCacheTTL  time.Duration // ttl of summary caches (default: 5s)
	HistoryCacheTTL   time.Duration // ttl of history caches (default: 5m)
	CacheMirrorTTL    time.Duration // ttl of cache entries mirrored to redis (default: 24h)

	// Ingestion
	AgentToken         string // optional bearer token required on /metrics/*
	IngestBurst        int    // per-IP burst on /metrics/* (default: 60)
	IngestRefillPerMin int    // per-IP refill on /metrics/* (default: 600)

	// Redis
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDT             time.Duration // Redis dial timeout (ex: 5s)
	RedisRT             time.Duration // Redis read timeout (ex: 3s)
	RedisWT             time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisConnectTimeout time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold  int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict admin endpoints to specific IPs (e.g. "10.0.0.0/8, 1.2.3.4")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
	CORSOrigins  []string // optional, origins allowed to call the API from a browser ("*" = any)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("KOMANDORR_LISTEN_PORT", ":8000"),
		ShutdownTimeout: mustDuration("KOMANDORR_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("KOMANDORR_LOG_LEVEL", "info"),
		PrettyLog: mustBool("KOMANDORR_PRETTY_LOG", false),

		// Service file
		ServiceFile:    getenv("KOMANDORR_SERVICE_FILE", ""),
		ImportInterval: mustDuration("KOMANDORR_IMPORT_INTERVAL", 0),

		// Prober
		ProbeInterval:      mustDuration("KOMANDORR_PROBE_INTERVAL", 10*time.Second),
		ProbeTimeout:       mustDuration("KOMANDORR_PROBE_TIMEOUT", 10*time.Second),
		ProbeConcurrency:   getenvInt("KOMANDORR_PROBE_CONCURRENCY", 0),
		ProbeSlowThreshold: mustDuration("KOMANDORR_PROBE_SLOW_THRESHOLD", 0),
		ProbeSkipTLSVerify: mustBool("KOMANDORR_PROBE_SKIP_TLS_VERIFY", false),

		// Samples
		HeadCap:       getenvInt("KOMANDORR_HEAD_CAP", 100),
		DurableCap:    getenvInt("KOMANDORR_DURABLE_CAP", 1000),
		PruneInterval: mustDuration("KOMANDORR_PRUNE_INTERVAL", time.Hour),

		// Aggregation and caches
		AggregateInterval: mustDuration("KOMANDORR_AGGREGATE_INTERVAL", 60*time.Second),
		WarmInterval:      mustDuration("KOMANDORR_WARM_INTERVAL", 2*time.Second),
		WarmThreshold:     getenvFloat("KOMANDORR_WARM_THRESHOLD", 0.8),
		ActivityCacheTTL:  mustDuration("KOMANDORR_ACTIVITY_CACHE_TTL", 5*time.Second),
		HistoryCacheTTL:   mustDuration("KOMANDORR_HISTORY_CACHE_TTL", 5*time.Minute),
		CacheMirrorTTL:    mustDuration("KOMANDORR_CACHE_MIRROR_TTL", 24*time.Hour),

		// Ingestion
		AgentToken:         getenv("KOMANDORR_AGENT_TOKEN", ""),
		IngestBurst:        getenvInt("KOMANDORR_INGEST_BURST", 60),
		IngestRefillPerMin: getenvInt("KOMANDORR_INGEST_REFILL_PER_MIN", 600),

		// Redis settings
		RedisAddr:           requireEnv("KOMANDORR_REDIS_ADDR"),
		RedisUser:           getenv("KOMANDORR_REDIS_USERNAME", ""),
		RedisPassword:       getenv("KOMANDORR_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("KOMANDORR_REDIS_DB", 0),
		RedisDT:             mustDuration("KOMANDORR_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("KOMANDORR_REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("KOMANDORR_REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("KOMANDORR_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("KOMANDORR_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("KOMANDORR_REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("KOMANDORR_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("KOMANDORR_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("KOMANDORR_REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("KOMANDORR_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("KOMANDORR_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("KOMANDORR_TRUST_PROXY", false),
		CORSOrigins:  splitAndTrim(getenv("KOMANDORR_CORS_ORIGINS", "")),
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("❌ FATAL: %v", err))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		if cfg.AgentToken != "" {
			cfgCopy.AgentToken = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ProbeInterval <= 0:
		return fmt.Errorf("KOMANDORR_PROBE_INTERVAL must be positive, got %s", c.ProbeInterval)
	case c.ProbeTimeout <= 0:
		return fmt.Errorf("KOMANDORR_PROBE_TIMEOUT must be positive, got %s", c.ProbeTimeout)
	case c.ProbeConcurrency < 0:
		return fmt.Errorf("KOMANDORR_PROBE_CONCURRENCY must not be negative, got %d", c.ProbeConcurrency)
	case c.HeadCap <= 0 || c.DurableCap < c.HeadCap:
		return fmt.Errorf("KOMANDORR_DURABLE_CAP (%d) must be at least KOMANDORR_HEAD_CAP (%d) > 0", c.DurableCap, c.HeadCap)
	case c.AggregateInterval <= 0 || c.WarmInterval <= 0 || c.PruneInterval <= 0:
		return fmt.Errorf("aggregate, warm and prune intervals must be positive")
	case c.WarmThreshold <= 0 || c.WarmThreshold >= 1:
		return fmt.Errorf("KOMANDORR_WARM_THRESHOLD must be in (0, 1), got %g", c.WarmThreshold)
	case c.ActivityCacheTTL <= 0 || c.HistoryCacheTTL <= 0:
		return fmt.Errorf("cache ttls must be positive")
	case c.ImportInterval < 0:
		return fmt.Errorf("KOMANDORR_IMPORT_INTERVAL must not be negative, got %s", c.ImportInterval)
	}
	return nil
}

// AgentConfig configures a push agent. Command line flags override it.
type AgentConfig struct {
	ServerURL    string        // ex: "http://komandorr:8000"
	ServiceID    string        // id of the registered service the agent reports for
	Token        string        // bearer token, must match the server's KOMANDORR_AGENT_TOKEN
	Interval     time.Duration // time between pushes (default: 5s)
	Interface    string        // network interface to count (empty = all)
	StoragePaths []string      // mount points to report (empty = all partitions)
	MdstatPath   string        // software raid status file (default: /proc/mdstat)
	LogLevel     string
	PrettyLog    bool
}

func LoadAgent() *AgentConfig {
	return &AgentConfig{
		ServerURL:    getenv("KOMANDORR_AGENT_SERVER_URL", ""),
		ServiceID:    getenv("KOMANDORR_AGENT_SERVICE_ID", ""),
		Token:        getenv("KOMANDORR_AGENT_TOKEN", ""),
		Interval:     mustDuration("KOMANDORR_AGENT_INTERVAL", 5*time.Second),
		Interface:    getenv("KOMANDORR_AGENT_INTERFACE", ""),
		StoragePaths: splitAndTrim(getenv("KOMANDORR_AGENT_STORAGE_PATHS", "")),
		MdstatPath:   getenv("KOMANDORR_AGENT_MDSTAT", "/proc/mdstat"),
		LogLevel:     getenv("KOMANDORR_LOG_LEVEL", "info"),
		PrettyLog:    mustBool("KOMANDORR_PRETTY_LOG", true),
	}
}

// Validate is called once flags have been applied.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required (KOMANDORR_AGENT_SERVER_URL or --server)")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be an absolute http(s) url", c.ServerURL)
	}
	if strings.TrimSpace(c.ServiceID) == "" {
		return fmt.Errorf("service id is required (KOMANDORR_AGENT_SERVICE_ID or --service-id)")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
