// Package canarystore is the storage and metrics core of a canary analysis service: an
// account-scoped contract over interchangeable object stores, a crash-safe index of canary
// configs, and a retrying coordinator for metrics queries.
//
// # Overview
//
// Every operation names an account. Accounts carry capabilities (METRICS_STORE, OBJECT_STORE,
// CONFIGURATION_STORE, REMOTE_JUDGE) and the connection details of one backend. Services are
// registered once; for each call the first registered service that applies to the account
// handles it. This gives:
//
//   - One StorageService contract over memory, filesystem, S3, MinIO, GCS, PostgreSQL and Badger
//   - A config index (Redis or in-memory) that never keeps a marker for a write that failed
//   - Duplicate canary config name detection across applications
//   - Metrics queries with status-aware retry and exponential backoff
//   - Structured logging (zap) and Prometheus metrics on every path
//
// # Quick Start
//
// In-memory accounts for development and tests:
//
//	accounts := canarystore.NewAccountRegistry()
//	accounts.Save(canarystore.NewMemoryAccount("local",
//	    canarystore.ObjectStore, canarystore.ConfigurationStore))
//
//	storage := canarystore.NewStorageServiceRepository(accounts,
//	    canarystore.NewMemoryStorageService())
//
//	configs := canarystore.NewCanaryConfigService(storage)
//	id, err := configs.Create(ctx, "", &canarystore.CanaryConfig{
//	    Name:         "latency",
//	    Applications: []string{"checkout"},
//	})
//
// Production setup with S3 and a shared Redis config index:
//
//	redisClient := redis.NewClient(canarystore.RedisOptions())
//	index := canarystore.NewRedisConfigIndex(redisClient,
//	    canarystore.WithIndexLogger(logger))
//
//	backend, _ := canarystore.NewS3BackendFromConfig(ctx, canarystore.S3Config{
//	    Bucket: "canary", Region: "us-west-2",
//	})
//	accounts.Save(&canarystore.S3Account{
//	    AccountBase: canarystore.AccountBase{
//	        AccountName:  "prod",
//	        Capabilities: []canarystore.Capability{canarystore.ObjectStore, canarystore.ConfigurationStore},
//	    },
//	    Bucket: "canary", RootFolder: "kayenta", Backend: backend,
//	})
//
//	storage := canarystore.NewStorageServiceRepository(accounts,
//	    canarystore.NewS3StorageService(
//	        canarystore.WithConfigIndex(index),
//	        canarystore.WithStorageLogger(logger),
//	        canarystore.WithStorageMetrics(metrics),
//	    ))
//
// # Object Layout
//
// Objects live at <rootFolder>/<group>/<key>/<filename>. The group and default filename come
// from the object type:
//
//	canary_config     canary_config.json    (configs are stored as <name>.json)
//	canary_archive    canary_archive.json
//	metrics           metric_sets.json
//	metric_pairs      metric_set_pairs.json
//
// Loads, deletes and config updates resolve the single object below <group>/<key>/. No match
// is ErrNotFound; more than one is ErrAmbiguousMatch and nothing is read or written.
//
// # Config Index Protocol
//
// Canary config writes register a pending update before touching storage:
//
//  1. Reject the write if another config with the same name shares an application
//  2. Read the index clock and record a pending update with a fresh correlation id
//  3. Write the object (retried), deleting the old file when the config was renamed
//  4. Finish the pending update, which commits it to the index
//
// If any step after 2 fails, the pending update is removed and the original error returned.
// A failed removal is logged and joined to the original error, never substituted for it.
// Deletes follow the same protocol when the index knows the id.
//
// The duplicate name check is advisory: two concurrent creates of the same name may both pass.
// IndexRepairService rebuilds the index from storage and drops abandoned pending updates.
//
// # Metrics Queries
//
// QueryProcessor runs one metric of a canary config against a metrics account and stores the
// resulting series as a metric set list:
//
//	processor := canarystore.NewQueryProcessor(metricsRepo, storage,
//	    canarystore.WithQueryRetry(canarystore.DefaultMetricsRetryConfig()))
//	id, err := processor.ExecuteQuery(ctx, "prom", "local", config, 0, scope)
//
// Failures are classified by ClassifyFailure. No response, a status listed in the retry
// config, or a status in a retryable series (5xx by default) is retried after
// multiplier * 2^(n-1). Any other status is fatal. Once the attempt budget is used the last
// failure is returned wrapped in ErrRetryExhausted.
//
// # Error Handling
//
// Errors are sentinels checked with errors.Is, usually wrapped with context:
//
//	if canarystore.IsNotFound(err) { ... }       // 404
//	if canarystore.IsDuplicateName(err) { ... }  // 409
//	if canarystore.IsBadInput(err) { ... }       // 400
//	if canarystore.IsUpstreamUnavailable(err) {} // 502
//
// Backend failures are wrapped in ErrBackendFault and keep their cause reachable.
//
// # Observability
//
//	logger, _ := canarystore.NewZapLoggerAtLevel("info", false)
//	metrics := canarystore.NewPrometheusMetrics(prometheus.NewRegistry())
//
// Storage operations, index protocol steps and query attempts are counted; see the Metric*
// constants. MetricsExporter publishes account and pending-update gauges periodically.
//
// # Testing
//
// MemoryBackend, MemoryConfigIndex, NoOpLogger and InMemoryMetrics need no infrastructure.
// Redis-backed components are tested against miniredis.
package canarystore
