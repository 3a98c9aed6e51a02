package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/models"
)

//go:embed sql/get-locations.sql
var getLocationsSQL string

//go:embed sql/get-latest-forecasts.sql
var getLatestForecastsSQL string

//go:embed sql/get-average-temperatures.sql
var getAverageTemperaturesSQL string

func (s *Store) Locations(ctx context.Context) ([]models.LocationRow, error) {
	rows, err := s.db.QueryContext(ctx, getLocationsSQL)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer s.closeRows(rows, "locations")

	var out []models.LocationRow
	for rows.Next() {
		var r models.LocationRow
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestForecasts returns every forecast with its location name, ordered by
// location, date and time.
func (s *Store) LatestForecasts(ctx context.Context) ([]models.LatestForecastRow, error) {
	rows, err := s.db.QueryContext(ctx, getLatestForecastsSQL)
	if err != nil {
		return nil, fmt.Errorf("query latest forecasts: %w", err)
	}
	defer s.closeRows(rows, "latest forecasts")

	var out []models.LatestForecastRow
	for rows.Next() {
		var r models.LatestForecastRow
		if err := rows.Scan(&r.Name, &r.Date, &r.Time, &r.Temperature); err != nil {
			return nil, fmt.Errorf("scan latest forecast: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AverageTemperatures returns, per location and date, the mean of the three
// latest samples of that date rounded to two decimals.
func (s *Store) AverageTemperatures(ctx context.Context) ([]models.AverageTemperatureRow, error) {
	rows, err := s.db.QueryContext(ctx, getAverageTemperaturesSQL)
	if err != nil {
		return nil, fmt.Errorf("query average temperatures: %w", err)
	}
	defer s.closeRows(rows, "average temperatures")

	var out []models.AverageTemperatureRow
	for rows.Next() {
		var r models.AverageTemperatureRow
		if err := rows.Scan(&r.Name, &r.Date, &r.AverageTemperature); err != nil {
			return nil, fmt.Errorf("scan average temperature: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		s.logger.Error("close rows", zap.String("query", what), zap.Error(err))
	}
}
