// Package directory retrieves and normalizes the provider's station list.
package directory

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/client"
	"github.com/kjstillabower/station-forecast-service/internal/models"
)

// Source is the part of the provider client the fetcher needs.
type Source interface {
	FetchStationDirectory(ctx context.Context) ([]byte, error)
}

// FetchError reports a failed directory retrieval. It is terminal for a run.
type FetchError struct {
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("station directory fetch from %s: %v", e.Endpoint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Fetcher struct {
	source Source
	logger *zap.Logger
}

func NewFetcher(source Source, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: source, logger: logger}
}

// Fetch downloads the station table and returns it deduplicated, sorted by
// name, with IDs 1..N. Any failure is returned as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context) ([]models.Station, error) {
	body, err := f.source.FetchStationDirectory(ctx)
	if err != nil {
		return nil, &FetchError{Endpoint: client.EndpointDirectory, Err: err}
	}

	records, err := Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Endpoint: client.EndpointDirectory, Err: err}
	}

	stations := Normalize(records)
	f.logger.Info("station directory fetched",
		zap.Int("records", len(records)),
		zap.Int("stations", len(stations)),
		zap.Int("duplicates", len(records)-len(stations)),
	)
	return stations, nil
}
