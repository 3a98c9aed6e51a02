package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/models"
)

// Exporter mirrors a committed table to a file artifact.
type Exporter interface {
	ExportStations(stations []models.Station) error
	ExportForecasts(points []models.ForecastPoint) error
}

// Sink replaces a table in the store, then mirrors it through the exporter.
// Export failures are reported as *PersistenceError with Op "export"; the
// table has already been committed at that point.
type Sink struct {
	store    *Store
	exporter Exporter
	logger   *zap.Logger
}

// NewSink builds a Sink. A nil exporter disables file mirroring.
func NewSink(store *Store, exporter Exporter, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, exporter: exporter, logger: logger}
}

func (s *Sink) ReplaceStations(ctx context.Context, stations []models.Station) error {
	if err := s.store.ReplaceStations(ctx, stations); err != nil {
		return err
	}
	if s.exporter == nil {
		return nil
	}
	if err := s.exporter.ExportStations(stations); err != nil {
		return &PersistenceError{Table: TableLocations, Op: "export", Err: fmt.Errorf("export stations: %w", err)}
	}
	s.logger.Debug("table exported", zap.String("table", TableLocations), zap.Int("rows", len(stations)))
	return nil
}

func (s *Sink) ReplaceForecasts(ctx context.Context, points []models.ForecastPoint) error {
	if err := s.store.ReplaceForecasts(ctx, points); err != nil {
		return err
	}
	if s.exporter == nil {
		return nil
	}
	if err := s.exporter.ExportForecasts(points); err != nil {
		return &PersistenceError{Table: TableForecasts, Op: "export", Err: fmt.Errorf("export forecasts: %w", err)}
	}
	s.logger.Debug("table exported", zap.String("table", TableForecasts), zap.Int("rows", len(points)))
	return nil
}
