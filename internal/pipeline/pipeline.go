// Package pipeline sequences one ingestion run: station directory, forecast
// batches, then persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/forecast"
	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
	"github.com/kjstillabower/station-forecast-service/internal/store"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("ingestion run already in progress")

type State string

const (
	StateInit             State = "init"
	StateDirectoryFetched State = "directory_fetched"
	StateForecastsFetched State = "forecasts_fetched"
	StatePersisted        State = "persisted"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

type StationSource interface {
	Fetch(ctx context.Context) ([]models.Station, error)
}

type ForecastSource interface {
	Fetch(ctx context.Context, stations []models.Station) (forecast.Result, error)
}

type Sink interface {
	ReplaceStations(ctx context.Context, stations []models.Station) error
	ReplaceForecasts(ctx context.Context, points []models.ForecastPoint) error
}

// Report summarizes one run.
type Report struct {
	RunID           string        `json:"runId"`
	State           State         `json:"state"`
	FailedAt        State         `json:"failedAt,omitempty"`
	Stations        int           `json:"stations"`
	Forecasts       int           `json:"forecasts"`
	Batches         int           `json:"batches"`
	FailedBatches   int           `json:"failedBatches"`
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"durationSeconds"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
}

type Pipeline struct {
	stations  StationSource
	forecasts ForecastSource
	sink      Sink
	logger    *zap.Logger

	running atomic.Bool

	mu   sync.RWMutex
	last *Report
}

func New(stations StationSource, forecasts ForecastSource, sink Sink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		stations:  stations,
		forecasts: forecasts,
		sink:      sink,
		logger:    logger,
	}
}

// Run executes one ingestion pass. Directory and persistence failures end the
// run in StateFailed; failed forecast batches are reported but do not.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	report := Report{
		RunID:     uuid.NewString(),
		State:     StateInit,
		StartedAt: time.Now().UTC(),
	}
	logger := p.logger.With(zap.String("run_id", report.RunID))
	logger.Info("ingestion run started")

	err := p.run(ctx, logger, &report)
	report.Duration = time.Since(report.StartedAt)
	report.DurationSeconds = report.Duration.Seconds()

	if err != nil {
		report.FailedAt = report.State
		report.State = StateFailed
		report.Err = err
		report.Error = err.Error()
		observability.IngestRunsTotal.WithLabelValues(string(StateFailed)).Inc()
		logger.Error("ingestion run failed",
			zap.String("failed_at", string(report.FailedAt)),
			zap.Duration("duration", report.Duration),
			zap.Error(err),
		)
	} else {
		report.State = StateDone
		observability.IngestRunsTotal.WithLabelValues(string(StateDone)).Inc()
		observability.IngestLastSuccessTimestamp.Set(float64(time.Now().Unix()))
		observability.IngestRowsLast.WithLabelValues(store.TableLocations).Set(float64(report.Stations))
		observability.IngestRowsLast.WithLabelValues(store.TableForecasts).Set(float64(report.Forecasts))
		logger.Info("ingestion run completed",
			zap.Int("stations", report.Stations),
			zap.Int("forecasts", report.Forecasts),
			zap.Int("batches", report.Batches),
			zap.Int("failed_batches", report.FailedBatches),
			zap.Duration("duration", report.Duration),
		)
	}
	observability.IngestRunDuration.Observe(report.Duration.Seconds())

	p.mu.Lock()
	last := report
	p.last = &last
	p.mu.Unlock()

	return report, err
}

func (p *Pipeline) run(ctx context.Context, logger *zap.Logger, report *Report) error {
	stations, err := p.stations.Fetch(ctx)
	if err != nil {
		return err
	}
	report.Stations = len(stations)
	report.State = StateDirectoryFetched
	logger.Info("station directory ready", zap.Int("stations", len(stations)))

	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := p.forecasts.Fetch(ctx, stations)
	if err != nil {
		return err
	}
	report.Forecasts = len(result.Points)
	report.Batches = result.Batches
	report.FailedBatches = len(result.Failed)
	report.State = StateForecastsFetched
	if len(result.Failed) > 0 {
		logger.Warn("forecast batches failed",
			zap.Int("failed_batches", len(result.Failed)),
			zap.Int("batches", result.Batches),
		)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// Locations before forecasts: forecasts reference the new location ids.
	if err := p.sink.ReplaceStations(ctx, stations); err != nil {
		return err
	}
	if err := p.sink.ReplaceForecasts(ctx, result.Points); err != nil {
		return fmt.Errorf("stations replaced, forecasts not: %w", err)
	}
	report.State = StatePersisted
	return nil
}

// Last returns the most recent run report, if any.
func (p *Pipeline) Last() (Report, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Report{}, false
	}
	return *p.last, true
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}
