package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
	"github.com/kjstillabower/station-forecast-service/internal/pipeline"
)

const (
	ReportLocations          = "locations"
	ReportLatestForecast     = "latest_forecast"
	ReportAverageTemperature = "average_temperature"
)

// ReportSource is the uncached read side of the destination store.
type ReportSource interface {
	Locations(ctx context.Context) ([]models.LocationRow, error)
	LatestForecasts(ctx context.Context) ([]models.LatestForecastRow, error)
	AverageTemperatures(ctx context.Context) ([]models.AverageTemperatureRow, error)
	Ping(ctx context.Context) error
}

// RunStatus identifies the data currently in the store.
type RunStatus interface {
	Last() (pipeline.Report, bool)
	Running() bool
}

// ReportCache serves report rows from a Cache keyed by the last finished
// ingestion run, so every run invalidates all reports at once. Queries are
// passed straight to the store while a run is replacing tables, or before
// the first run of this process finishes.
type ReportCache struct {
	source    ReportSource
	cache     Cache
	runs      RunStatus
	ttl       time.Duration
	logger    *zap.Logger
	coalescer *queryCoalescer
}

// NewReportCache wraps source. queryTimeout bounds a shared store query.
func NewReportCache(source ReportSource, c Cache, runs RunStatus, ttl, queryTimeout time.Duration, logger *zap.Logger) *ReportCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ReportCache{
		source:    source,
		cache:     c,
		runs:      runs,
		ttl:       ttl,
		logger:    logger,
		coalescer: newQueryCoalescer(queryTimeout),
	}
}

func (r *ReportCache) Locations(ctx context.Context) ([]models.LocationRow, error) {
	return cachedQuery(ctx, r, ReportLocations, r.source.Locations)
}

func (r *ReportCache) LatestForecasts(ctx context.Context) ([]models.LatestForecastRow, error) {
	return cachedQuery(ctx, r, ReportLatestForecast, r.source.LatestForecasts)
}

func (r *ReportCache) AverageTemperatures(ctx context.Context) ([]models.AverageTemperatureRow, error) {
	return cachedQuery(ctx, r, ReportAverageTemperature, r.source.AverageTemperatures)
}

// Ping checks the store; cache failures only cost latency.
func (r *ReportCache) Ping(ctx context.Context) error {
	return r.source.Ping(ctx)
}

// generation returns the run id the cached entries belong to, or false when
// the cache must be bypassed.
func (r *ReportCache) generation() (string, bool) {
	if r.runs == nil || r.runs.Running() {
		return "", false
	}
	last, ok := r.runs.Last()
	if !ok || last.RunID == "" {
		return "", false
	}
	return last.RunID, true
}

func cachedQuery[T any](ctx context.Context, r *ReportCache, report string, query func(context.Context) ([]T, error)) ([]T, error) {
	gen, ok := r.generation()
	if !ok {
		observability.ReportCacheTotal.WithLabelValues(report, "bypass").Inc()
		return query(ctx)
	}
	key := report + ":" + gen

	raw, hit, err := r.cache.Get(ctx, key)
	if err != nil {
		observability.ReportCacheTotal.WithLabelValues(report, "error").Inc()
		r.logger.Warn("report cache get failed", zap.String("report", report), zap.Error(err))
	}
	if hit {
		var rows []T
		err := json.Unmarshal(raw, &rows)
		if err == nil {
			observability.ReportCacheTotal.WithLabelValues(report, "hit").Inc()
			return rows, nil
		}
		r.logger.Warn("report cache entry unreadable", zap.String("report", report), zap.Error(err))
	}
	observability.ReportCacheTotal.WithLabelValues(report, "miss").Inc()

	raw, err = r.coalescer.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		rows, err := query(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(rows)
		if err != nil {
			return nil, fmt.Errorf("encode %s rows: %w", report, err)
		}
		if err := r.cache.Set(ctx, key, encoded, r.ttl); err != nil {
			if errors.Is(err, ErrValueTooLarge) {
				r.logger.Debug("report too large to cache", zap.String("report", report), zap.Int("bytes", len(encoded)))
			} else {
				r.logger.Warn("report cache set failed", zap.String("report", report), zap.Error(err))
			}
		}
		return encoded, nil
	})
	if err != nil {
		return nil, err
	}

	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s rows: %w", report, err)
	}
	return rows, nil
}

// Warm loads every report for the current run into the cache. It does
// nothing while the cache is bypassed.
func (r *ReportCache) Warm(ctx context.Context) error {
	if _, ok := r.generation(); !ok {
		return nil
	}
	start := time.Now()
	var errs []error
	if _, err := r.Locations(ctx); err != nil {
		errs = append(errs, fmt.Errorf("warm %s: %w", ReportLocations, err))
	}
	if _, err := r.LatestForecasts(ctx); err != nil {
		errs = append(errs, fmt.Errorf("warm %s: %w", ReportLatestForecast, err))
	}
	if _, err := r.AverageTemperatures(ctx); err != nil {
		errs = append(errs, fmt.Errorf("warm %s: %w", ReportAverageTemperature, err))
	}
	duration := time.Since(start).Seconds()
	observability.ReportCacheWarmingDuration.Observe(duration)
	r.logger.Info("report cache warmed",
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	return errors.Join(errs...)
}
