package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/adrianmcphee/canarystore"
	"github.com/adrianmcphee/canarystore/internal/config"
)

// app holds everything a command needs, built once from the configuration
type app struct {
	cfg      *config.Configuration
	logger   *canarystore.ZapLogger
	registry *prometheus.Registry
	metrics  *canarystore.PrometheusMetrics

	accounts *config.Accounts
	redis    *redis.Client
	index    canarystore.MaintainableConfigIndex

	storage *canarystore.StorageServiceRepository
	queries *canarystore.QueryProcessor
	configs *canarystore.CanaryConfigService
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Server.LogLevel = opts.logLevel
	}

	logger, err := canarystore.NewZapLoggerAtLevel(cfg.Server.LogLevel, cfg.Server.Development || opts.development)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := canarystore.NewPrometheusMetrics(registry)

	a := &app{cfg: cfg, logger: logger, registry: registry, metrics: metrics}

	a.accounts, err = cfg.BuildAccounts(ctx, logger.Named("accounts"))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	switch cfg.Index.Type {
	case config.IndexRedis:
		r := cfg.Index.Redis
		a.redis = redis.NewClient(canarystore.RedisOptionsWithOverrides(r.Addr, r.Password, r.DB, r.PoolSize))
		indexOpts := []canarystore.RedisConfigIndexOption{
			canarystore.WithIndexLogger(logger.Named("index")),
			canarystore.WithIndexMetrics(metrics),
		}
		if r.KeyPrefix != "" {
			indexOpts = append(indexOpts, canarystore.WithIndexKeyPrefix(r.KeyPrefix))
		}
		redisIndex := canarystore.NewRedisConfigIndex(a.redis, indexOpts...)
		if err := redisIndex.Ping(ctx); err != nil {
			logger.Warn("config index not reachable at startup", "addr", a.redis.Options().Addr, "error", err)
		}
		a.index = redisIndex
	default:
		a.index = canarystore.NewMemoryConfigIndex()
	}

	storeOpts := []canarystore.BlobStorageOption{
		canarystore.WithConfigIndex(a.index),
		canarystore.WithStoreRetry(cfg.StoreRetry()),
		canarystore.WithStorageLogger(logger.Named("storage")),
		canarystore.WithStorageMetrics(metrics),
	}
	a.storage = canarystore.NewStorageServiceRepository(a.accounts.Registry,
		canarystore.NewS3StorageService(storeOpts...),
		canarystore.NewGCSStorageService(storeOpts...),
		canarystore.NewSQLStorageService(storeOpts...),
		canarystore.NewBadgerStorageService(storeOpts...),
		canarystore.NewFilesystemStorageService(storeOpts...),
		canarystore.NewMemoryStorageService(storeOpts...),
	)

	prom := canarystore.NewPrometheusMetricsService(
		canarystore.WithScopeLabel(cfg.Metrics.ScopeLabel),
		canarystore.WithLocationLabel(cfg.Metrics.LocationLabel),
		canarystore.WithPrometheusLogger(logger.Named("prometheus")),
	)
	a.queries = canarystore.NewQueryProcessor(
		canarystore.NewMetricsServiceRepository(a.accounts.Registry, prom),
		a.storage,
		canarystore.WithQueryRetry(cfg.QueryRetry()),
		canarystore.WithQueryLogger(logger.Named("query")),
		canarystore.WithQueryMetrics(metrics),
	)

	a.configs = canarystore.NewCanaryConfigService(a.storage)
	return a, nil
}

// repairOptions serializes rebuilds across processes when the index lives in Redis
func (a *app) repairOptions() []canarystore.IndexRepairOption {
	opts := []canarystore.IndexRepairOption{canarystore.WithStaleAfter(a.cfg.Index.StaleAfter)}
	if a.redis != nil {
		prefix := a.cfg.Index.Redis.KeyPrefix
		if prefix == "" {
			prefix = canarystore.RedisKeyPrefix()
		}
		opts = append(opts, canarystore.WithRepairLock(canarystore.NewDistributedLock(a.redis, prefix), 0))
	}
	return opts
}

func (a *app) repairService(account canarystore.Account) (*canarystore.IndexRepairService, error) {
	service, err := a.storage.Require(account)
	if err != nil {
		return nil, err
	}
	opts := append(a.repairOptions(),
		canarystore.WithRepairLogger(a.logger.Named("repair").With("account", account.Name())),
		canarystore.WithRepairMetrics(a.metrics),
	)
	return canarystore.NewIndexRepairService(service, a.index, opts...), nil
}

// healthMonitor returns the index drift monitor, or nil when it is disabled
func (a *app) healthMonitor() *canarystore.IndexHealthMonitor {
	if a.cfg.Index.HealthInterval <= 0 {
		return nil
	}
	monitor := canarystore.NewIndexHealthMonitor(a.storage, a.index).
		WithInterval(a.cfg.Index.HealthInterval).
		WithDriftThreshold(a.cfg.Index.DriftThreshold).
		WithLogger(a.logger.Named("index-health")).
		WithMetrics(a.metrics)
	if a.cfg.Index.AutoRepair {
		monitor = monitor.WithAutoRepair(a.repairOptions()...)
	}
	return monitor
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.accounts != nil {
		errs = append(errs, a.accounts.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
