package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/station-forecast-service/internal/client"
	"github.com/kjstillabower/station-forecast-service/internal/models"
)

const (
	DefaultBatchSize = 500

	// CoordinateTolerance is the largest difference, in degrees, accepted
	// between a requested coordinate and the one echoed by the provider.
	CoordinateTolerance = 1e-4

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

var (
	ErrNoSeries           = errors.New("response contains no parameter series")
	ErrCoordinateCount    = errors.New("coordinate count mismatch")
	ErrCoordinateMismatch = errors.New("coordinate mismatch")
)

// Partition splits stations into contiguous batches of size; the last batch
// may be shorter. A non-positive size uses DefaultBatchSize.
func Partition(stations []models.Station, size int) [][]models.Station {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]models.Station, 0, (len(stations)+size-1)/size)
	for start := 0; start < len(stations); start += size {
		end := min(start+size, len(stations))
		batches = append(batches, stations[start:end])
	}
	return batches
}

// ParseTimestamp splits an ISO 8601 timestamp into a UTC date and time of
// day, e.g. "2024-05-01T14:30:00Z" becomes "2024-05-01" and "14:30:00".
func ParseTimestamp(ts string) (date, clock string, err error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", "", fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	t = t.UTC()
	return t.Format(dateLayout), t.Format(timeLayout), nil
}

// Flatten converts one batch's response into forecast points. Response entry
// i belongs to batch[i]; the count and each echoed coordinate must agree with
// the request. Returned points carry no ID yet.
func Flatten(batch []models.Station, resp client.ForecastResponse) ([]models.ForecastPoint, error) {
	if len(resp.Data) == 0 {
		return nil, ErrNoSeries
	}
	series := resp.Data[0].Coordinates
	if len(series) != len(batch) {
		return nil, fmt.Errorf("%w: requested %d, received %d", ErrCoordinateCount, len(batch), len(series))
	}

	var points []models.ForecastPoint
	for i, cs := range series {
		station := batch[i]
		if !near(cs.Lat, station.Latitude) || !near(cs.Lon, station.Longitude) {
			return nil, fmt.Errorf("%w: position %d station %d requested (%v,%v), received (%v,%v)",
				ErrCoordinateMismatch, i, station.ID, station.Latitude, station.Longitude, cs.Lat, cs.Lon)
		}
		for _, dv := range cs.Dates {
			date, clock, err := ParseTimestamp(dv.Date)
			if err != nil {
				return nil, fmt.Errorf("station %d: %w", station.ID, err)
			}
			points = append(points, models.ForecastPoint{
				LocationID:  station.ID,
				Date:        date,
				Time:        clock,
				Temperature: dv.Value,
			})
		}
	}
	return points, nil
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= CoordinateTolerance
}
