package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cyb3rgh05t/komandorr/internal/cache"
	"github.com/cyb3rgh05t/komandorr/internal/config"
	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
	"github.com/cyb3rgh05t/komandorr/internal/metrics"
	"github.com/cyb3rgh05t/komandorr/internal/monitor"
	"github.com/cyb3rgh05t/komandorr/internal/redis"
	"github.com/cyb3rgh05t/komandorr/internal/registry"
	"github.com/cyb3rgh05t/komandorr/internal/samples"
	"github.com/cyb3rgh05t/komandorr/internal/scheduler"
	"github.com/cyb3rgh05t/komandorr/internal/stats"
	redisstore "github.com/cyb3rgh05t/komandorr/internal/store/redis"
	"github.com/cyb3rgh05t/komandorr/internal/version"
)

// importFallbackInterval is used when the service file is only imported at
// startup and on demand.
const importFallbackInterval = 24 * time.Hour

// historyFetchLimit is the default and maximum sample count on history endpoints.
const historyFetchLimit = 500

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client

	registry   *registry.Registry
	samples    *samples.Store
	snapshots  *monitor.Snapshots
	prober     *monitor.Prober
	receiver   *monitor.Receiver
	aggregator *stats.Aggregator
	caches     *cache.Manager
	metrics    *metrics.Metrics
	syncer     *scheduler.RedisSyncer
	pruner     *scheduler.SamplePruner
	importer   *scheduler.ServicesImporter

	importTrigger chan struct{}
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// The durable store is required, so fail fast when it never answers.
	redisClient, err := redis.Connect(context.Background(), redis.Options{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		DB:             cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient.Named("redis"))
	if err != nil {
		loggerClient.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}

	return build(cfg, loggerClient, redisClient)
}

// build wires the engine around an already connected client.
func build(cfg *config.Config, loggerClient logger.Logger, redisClient *goredis.Client) *App {
	store := redisstore.NewStore(redisClient, cfg.DurableCap).WithCacheTTL(cfg.CacheMirrorTTL)

	reg := registry.New(store, loggerClient)
	sampleStore := samples.NewStore(store, samples.Options{
		HeadCap:    cfg.HeadCap,
		DurableCap: cfg.DurableCap,
	}, loggerClient)
	snapshots := monitor.NewSnapshots()
	peak := monitor.NewPeak(store)

	var aggregator *stats.Aggregator
	m := metrics.New(func() time.Time { return aggregator.LastComputed() })

	prober := monitor.NewProber(monitor.ProberConfig{
		Timeout:       cfg.ProbeTimeout,
		SlowThreshold: cfg.ProbeSlowThreshold,
		Concurrency:   cfg.ProbeConcurrency,
		SkipTLSVerify: cfg.ProbeSkipTLSVerify,
	}, reg, sampleStore, m, loggerClient.Named("prober"))
	receiver := monitor.NewReceiver(reg, sampleStore, snapshots, peak, m, loggerClient.Named("receiver"))
	aggregator = stats.New(reg, sampleStore, snapshots, peak, loggerClient.Named("aggregator"))

	cacheOpts := []cache.Option{
		cache.WithMirror(store),
		cache.WithRecorder(m),
		cache.WithLogger(loggerClient.Named("cache")),
	}
	caches := deps.Caches{
		TrafficSummary: cache.New[domain.TrafficSummary]("traffic_summary", cfg.ActivityCacheTTL, cacheOpts...),
		StorageSummary: cache.New[domain.StorageSummary]("storage_summary", cfg.ActivityCacheTTL, cacheOpts...),
		History:        cache.New[[]domain.Sample]("history", cfg.HistoryCacheTTL, cacheOpts...),
	}
	manager := cache.NewManager(cfg.WarmThreshold, loggerClient.Named("warmer"))
	manager.Register(caches.TrafficSummary)
	manager.Register(caches.StorageSummary)
	manager.Register(caches.History)

	// Deleting a service cascades to everything keyed by its id.
	reg.OnDelete(sampleStore.DropService)
	reg.OnDelete(func(_ context.Context, id string) error {
		snapshots.Drop(id)
		m.ForgetService(id)
		return nil
	})
	reg.OnDelete(func(ctx context.Context, id string) error {
		caches.ForgetService(ctx, id)
		return nil
	})

	var (
		importer      *scheduler.ServicesImporter
		importTrigger chan struct{}
	)
	if cfg.ServiceFile != "" {
		importer = scheduler.NewServicesImporter(cfg.ServiceFile, reg, loggerClient)
		importTrigger = make(chan struct{}, 1)
	} else {
		loggerClient.Info("service file not configured, services are managed through the API only")
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:             loggerClient,
		StartTime:          time.Now(),
		Version:            version.Version,
		Commit:             version.Commit,
		BuildDate:          version.BuildDate,
		GoVersion:          version.GoVersion,
		TimeNow:            time.Now,
		AllowedHosts:       cfg.AllowedHosts,
		AllowedCIDRS:       cfg.AllowedCIDRS,
		TrustProxy:         cfg.TrustProxy,
		AgentToken:         cfg.AgentToken,
		IngestBurst:        cfg.IngestBurst,
		IngestRefillPerMin: cfg.IngestRefillPerMin,
		ServiceFile:        cfg.ServiceFile,
		ImportTrigger:      importTrigger,
		RedisClient:        redisClient,
		Registry:           reg,
		Prober:             prober,
		Receiver:           receiver,
		Snapshots:          snapshots,
		Samples:            sampleStore,
		Aggregator:         aggregator,
		Caches:             caches,
		CacheManager:       manager,
		Metrics:            m,
		HistoryLimit:       historyFetchLimit,
	}

	return &App{
		cfg:           cfg,
		logger:        loggerClient,
		server:        httpserver.New(cfg, loggerClient, d),
		redisClient:   redisClient,
		registry:      reg,
		samples:       sampleStore,
		snapshots:     snapshots,
		prober:        prober,
		receiver:      receiver,
		aggregator:    aggregator,
		caches:        manager,
		metrics:       m,
		syncer:        scheduler.NewRedisSyncer(reg, store, snapshots, sampleStore, loggerClient),
		pruner:        scheduler.NewSamplePruner(sampleStore, reg, loggerClient),
		importer:      importer,
		importTrigger: importTrigger,
	}
}

// loops lists the background work started by Run.
func (a *App) loops() []*scheduler.Loop {
	loops := []*scheduler.Loop{
		{
			Name:      "prober",
			Interval:  a.cfg.ProbeInterval,
			Fn:        a.prober.Sweep,
			Immediate: true,
		},
		{
			Name:      "aggregator",
			Interval:  a.cfg.AggregateInterval,
			Fn:        a.aggregator.Refresh,
			Immediate: true,
		},
		{
			Name:     "cache-warmer",
			Interval: a.cfg.WarmInterval,
			Fn: func(ctx context.Context) error {
				a.caches.Tick(ctx)
				return nil
			},
		},
		{
			Name:     "sample-pruner",
			Interval: a.cfg.PruneInterval,
			Fn:       a.pruner.Collect,
		},
	}

	if a.importer != nil {
		interval := a.cfg.ImportInterval
		if interval <= 0 {
			interval = importFallbackInterval
		}
		loops = append(loops, &scheduler.Loop{
			Name:      "services-import",
			Interval:  interval,
			Fn:        a.importer.Import,
			Trigger:   a.importTrigger,
			Immediate: true,
		})
	}

	for _, l := range loops {
		l.Logger = a.logger
		l.Recorder = a.metrics
	}
	return loops
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Komandorr v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Komandorr %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Restore services, snapshots and sample heads before anything probes.
	if err := a.syncer.Sync(ctx); err != nil {
		return fmt.Errorf("failed to restore state from redis: %w", err)
	}

	sup := scheduler.NewSupervisor(ctx, a.logger)
	for _, l := range a.loops() {
		sup.GoLoop(l)
		a.logger.Info("background loop started",
			logger.String("loop", l.Name),
			logger.Duration("interval", l.Interval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case <-sup.Context().Done():
		if ctx.Err() == nil {
			runErr = fmt.Errorf("background task stopped: %w", context.Cause(sup.Context()))
			a.logger.Error("background task failed, shutting down", logger.Error(runErr))
		}
	case err := <-errCh:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("failed to stop server", logger.Error(err))
	}

	sup.Stop()
	if err := sup.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	a.caches.Wait()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	if runErr != nil {
		return runErr
	}
	a.logger.Info("✅ Komandorr stopped cleanly")
	return nil
}
