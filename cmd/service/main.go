package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/station-forecast-service/internal/cache"
	"github.com/kjstillabower/station-forecast-service/internal/circuitbreaker"
	"github.com/kjstillabower/station-forecast-service/internal/client"
	"github.com/kjstillabower/station-forecast-service/internal/config"
	"github.com/kjstillabower/station-forecast-service/internal/directory"
	"github.com/kjstillabower/station-forecast-service/internal/export"
	"github.com/kjstillabower/station-forecast-service/internal/forecast"
	httphandler "github.com/kjstillabower/station-forecast-service/internal/http"
	"github.com/kjstillabower/station-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
	"github.com/kjstillabower/station-forecast-service/internal/pipeline"
	"github.com/kjstillabower/station-forecast-service/internal/scheduler"
	"github.com/kjstillabower/station-forecast-service/internal/store"
	"github.com/kjstillabower/station-forecast-service/internal/views"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	if err := views.LoadTemplates(); err != nil {
		logger.Fatal("templates", zap.Error(err))
	}

	openCtx, openCancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(openCtx, cfg.Database, logger)
	if err != nil {
		openCancel()
		logger.Fatal("database", zap.Error(err))
	}
	if err := db.Migrate(openCtx); err != nil {
		openCancel()
		logger.Fatal("migrate", zap.Error(err))
	}
	openCancel()
	logger.Info("database ready", zap.String("driver", db.Driver()))

	exporter, err := export.New(cfg.IngestExportFormat, cfg.IngestExportDir)
	if err != nil {
		logger.Fatal("exporter", zap.Error(err))
	}

	provider, err := client.NewMeteomaticsClient(client.Options{
		BaseURL:        cfg.ProviderURL,
		Credentials:    client.Credentials{User: cfg.ProviderUser, Password: cfg.ProviderPassword},
		Timeout:        cfg.ProviderTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		StationSource:  cfg.ProviderStationSource,
		Parameter:      cfg.ProviderParameter,
		Window:         cfg.ProviderWindow,
	})
	if err != nil {
		logger.Fatal("provider client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		provider.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			OpenTimeout:      cfg.CircuitBreakerOpenTimeout,
			IsFailure:        client.IsTransient,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.ProviderCircuitState.Set(float64(to))
				logger.Warn("provider circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.CircuitBreakerOpenTimeout))
	}

	ingest := pipeline.New(
		directory.NewFetcher(provider, logger),
		forecast.NewFetcher(provider, cfg.IngestBatchSize, logger),
		store.NewSink(db, exporter, logger),
		logger,
	)
	var reports httphandler.ReportStore = db
	var reportCache *cache.ReportCache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup; reports fall back to the database", zap.Error(err))
		}
		memcacheCloser = mc
		reportCache = cache.NewReportCache(db, mc, ingest, cfg.CacheTTL, cfg.RequestTimeout, logger)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "in_memory":
		reportCache = cache.NewReportCache(db, cache.NewInMemoryCache(), ingest, cfg.CacheTTL, cfg.RequestTimeout, logger)
		logger.Info("cache backend: in_memory")
	default:
		logger.Info("report cache disabled")
	}
	if reportCache != nil {
		reports = reportCache
	}

	runJob := func(ctx context.Context) error {
		report, err := ingest.Run(ctx)
		if reportCache != nil && report.State == pipeline.StateDone {
			if werr := reportCache.Warm(ctx); werr != nil {
				logger.Warn("report cache warming failed", zap.Error(werr))
			}
		}
		return err
	}

	if cfg.IngestOnStartup {
		go func() {
			if err := runJob(lifecycle.Context()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("startup ingestion failed", zap.Error(err))
			}
		}()
	}

	var sched *scheduler.Scheduler
	if cfg.IngestInterval > 0 {
		sched = scheduler.New(cfg.IngestInterval, runJob, logger)
		if err := sched.Start(); err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(reports, ingest, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	// An interrupted run rolls back its open transaction; wait for it to
	// release the database before closing.
	for ingest.Running() && shutdownCtx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := db.Close(); err != nil {
		logger.Error("database close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
