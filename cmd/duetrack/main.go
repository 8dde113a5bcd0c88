// Command duetrack runs the billing API server.
//
// Configuration comes from DUETRACK_* environment variables; see the
// config package for the full list. The server exposes the billing API
// on the main port and liveness, readiness and Prometheus metrics on a
// separate health port so probes stay reachable under load.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/duetrack/duetrack/pkg/analytics"
	"github.com/duetrack/duetrack/pkg/api"
	"github.com/duetrack/duetrack/pkg/audit"
	"github.com/duetrack/duetrack/pkg/billing"
	"github.com/duetrack/duetrack/pkg/config"
	"github.com/duetrack/duetrack/pkg/directory"
	"github.com/duetrack/duetrack/pkg/events"
	"github.com/duetrack/duetrack/pkg/observability"
	"github.com/duetrack/duetrack/pkg/plans"
	"github.com/duetrack/duetrack/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting duetrack billing server")

	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	store, err := postgres.NewStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Info("Connected to PostgreSQL, migrations applied")

	var redisClient *redis.Client
	if cfg.Storage.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable, continuing without cache")
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.WithField("addr", cfg.Storage.RedisAddr).Info("Connected to Redis")
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	catalog, planWatcher, err := buildPlanCatalog(cfg, store, redisClient, metrics)
	if err != nil {
		log.Fatalf("Failed to build plan catalog: %v", err)
	}
	if planWatcher != nil {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go planWatcher.Run(watchCtx)
		defer planWatcher.Close()
	}

	users := directory.NewPostgresDirectory(store.DB())

	auditLogger, auditStore, closeAudit, err := buildAuditLogger(cfg, store)
	if err != nil {
		log.Fatalf("Failed to build audit logger: %v", err)
	}
	defer closeAudit()

	engineOpts := []billing.Option{
		billing.WithLogger(logger),
		billing.WithMetrics(metrics),
		billing.WithAuditLogger(auditLogger),
		billing.WithWorkers(cfg.Billing.Workers),
		billing.WithPageSize(cfg.Billing.PageSize),
	}

	var eventManager *events.Manager
	if cfg.Events.Enabled {
		eventManager = events.NewManager(
			events.WithLogger(logger),
			events.WithMetrics(metrics),
			events.WithRetryConfig(events.RetryConfig{
				MaxAttempts:       cfg.Events.RetryMaxAttempts,
				InitialDelay:      cfg.Events.RetryInitialDelay,
				MaxDelay:          5 * time.Minute,
				BackoffMultiplier: 2.0,
			}),
			events.WithRateLimit(cfg.Events.RateLimitPerMin, time.Minute),
		)
		eventManager.StartRetryWorker(ctx)
		defer eventManager.StopRetryWorker()
		engineOpts = append(engineOpts, billing.WithEventSink(eventManager))
		logger.Info("Outbound event delivery enabled")
	}

	engine := billing.NewEngine(store, catalog, users, engineOpts...)
	stats := analytics.NewService(store.DB())
	health := observability.NewHealthChecker(store.DB(), redisClient)

	serverOpts := []api.ServerOption{
		api.WithPlanCatalog(catalog),
		api.WithStats(stats),
		api.WithHealthChecker(health),
	}
	if cfg.Observability.MetricsEnabled {
		serverOpts = append(serverOpts, api.WithHTTPMetrics(metrics))
	}
	if auditStore != nil {
		serverOpts = append(serverOpts, api.WithAuditStore(auditStore))
	}
	if eventManager != nil {
		serverOpts = append(serverOpts, api.WithEventManager(eventManager))
	}

	apiServer := api.NewServer(engine, serverOpts...)
	var handler http.Handler = apiServer
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "duetrack.api")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health/live", health.Liveness)
	healthMux.HandleFunc("/health/ready", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
}

// buildPlanCatalog picks the plan source. A configured plan file wins over
// the database; Redis wraps either source in a read-through cache.
func buildPlanCatalog(cfg *config.Config, store *postgres.Store, redisClient *redis.Client, metrics *observability.Metrics) (plans.Catalog, *plans.Watcher, error) {
	var (
		catalog plans.Catalog
		watcher *plans.Watcher
	)

	if cfg.Billing.PlanFile != "" {
		fileCatalog, err := plans.NewFileCatalog(cfg.Billing.PlanFile)
		if err != nil {
			return nil, nil, err
		}
		catalog = fileCatalog

		if cfg.Billing.WatchPlanFile {
			watchLog := logrus.New()
			watchLog.SetFormatter(&logrus.JSONFormatter{})
			watcher, err = plans.NewWatcher(fileCatalog, watchLog, nil)
			if err != nil {
				return nil, nil, err
			}
		}
	} else {
		catalog = plans.NewPostgresCatalog(store.DB())
	}

	if cfg.Storage.CacheEnabled && redisClient != nil {
		cached := plans.NewCachedCatalog(catalog, cfg.Storage.PlanCacheTTL,
			plans.WithRedis(redisClient),
			plans.WithMetrics(metrics),
		)
		return cached, watcher, nil
	}

	return catalog, watcher, nil
}

// buildAuditLogger assembles the audit destinations from config. The DB
// destination doubles as the query store behind the audit API routes.
func buildAuditLogger(cfg *config.Config, store *postgres.Store) (audit.Logger, audit.Store, func(), error) {
	var (
		loggers    []audit.Logger
		auditStore audit.Store
		closers    []func()
	)

	if cfg.Audit.DBEnabled {
		dbLogger, err := audit.NewDBLogger(store.DB())
		if err != nil {
			return nil, nil, nil, err
		}
		loggers = append(loggers, dbLogger)
		auditStore = audit.NewDBStore(dbLogger)
	}

	if cfg.Audit.FilePath != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.FilePath
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		loggers = append(loggers, fileLogger)
		closers = append(closers, func() { fileLogger.Close() })
	}

	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}

	switch len(loggers) {
	case 0:
		return audit.NewNoopLogger(), nil, closeAll, nil
	case 1:
		return loggers[0], auditStore, closeAll, nil
	default:
		return audit.NewMultiLogger(loggers...), auditStore, closeAll, nil
	}
}
