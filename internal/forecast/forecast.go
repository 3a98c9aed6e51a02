// Package forecast fetches forecasts for the station directory in fixed-size
// batches and flattens the provider's nested response into rows.
package forecast

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/client"
	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
)

// Source is the part of the provider client the fetcher needs.
type Source interface {
	FetchForecasts(ctx context.Context, coords []models.Coordinate) (client.ForecastResponse, error)
}

// BatchError reports one failed batch. The batch contributes no rows and the
// run continues with the next batch.
type BatchError struct {
	Index          int
	FirstStationID int
	LastStationID  int
	Size           int
	Err            error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("forecast batch %d (stations %d-%d, %d coordinates): %v",
		e.Index, e.FirstStationID, e.LastStationID, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Result is the outcome of one pass over all batches.
type Result struct {
	Points  []models.ForecastPoint
	Batches int
	Failed  []*BatchError
}

type Fetcher struct {
	source    Source
	batchSize int
	logger    *zap.Logger
}

func NewFetcher(source Source, batchSize int, logger *zap.Logger) *Fetcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: source, batchSize: batchSize, logger: logger}
}

// Fetch requests forecasts batch by batch, in order. A failing batch is
// recorded in Result.Failed and skipped. IDs 1..M are assigned over the
// surviving rows. The only error returned is cancellation of ctx.
func (f *Fetcher) Fetch(ctx context.Context, stations []models.Station) (Result, error) {
	batches := Partition(stations, f.batchSize)
	result := Result{Batches: len(batches)}

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		points, err := f.fetchBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			batchErr := &BatchError{
				Index:          i,
				FirstStationID: batch[0].ID,
				LastStationID:  batch[len(batch)-1].ID,
				Size:           len(batch),
				Err:            err,
			}
			reason := string(client.CategorizeError(err))
			observability.ForecastBatchesTotal.WithLabelValues("failed", reason).Inc()
			f.logger.Warn("forecast batch failed",
				zap.String("endpoint", client.EndpointForecast),
				zap.Int("batch", i),
				zap.Int("first_station_id", batchErr.FirstStationID),
				zap.Int("last_station_id", batchErr.LastStationID),
				zap.Int("size", batchErr.Size),
				zap.String("reason", reason),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, batchErr)
			continue
		}

		observability.ForecastBatchesTotal.WithLabelValues("success", "").Inc()
		f.logger.Debug("forecast batch fetched",
			zap.Int("batch", i),
			zap.Int("size", len(batch)),
			zap.Int("points", len(points)),
		)
		result.Points = append(result.Points, points...)
	}

	for i := range result.Points {
		result.Points[i].ID = i + 1
	}
	return result, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []models.Station) ([]models.ForecastPoint, error) {
	coords := make([]models.Coordinate, len(batch))
	for i, s := range batch {
		coords[i] = s.Coordinate()
	}
	resp, err := f.source.FetchForecasts(ctx, coords)
	if err != nil {
		return nil, err
	}
	return Flatten(batch, resp)
}
