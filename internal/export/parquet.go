package export

import (
	"io"
	"path/filepath"

	parquet "github.com/parquet-go/parquet-go"

	"github.com/kjstillabower/station-forecast-service/internal/models"
)

type locationRow struct {
	ID        int64   `parquet:"id"`
	Name      string  `parquet:"name"`
	Latitude  float64 `parquet:"latitude"`
	Longitude float64 `parquet:"longitude"`
}

type forecastRow struct {
	ID          int64   `parquet:"id"`
	LocationID  int64   `parquet:"location_id"`
	Date        string  `parquet:"date"`
	Time        string  `parquet:"time"`
	Temperature float64 `parquet:"temperature"`
}

// ParquetExporter writes locations.parquet and forecasts.parquet.
type ParquetExporter struct {
	dir string
}

func NewParquetExporter(dir string) *ParquetExporter {
	return &ParquetExporter{dir: dir}
}

func (e *ParquetExporter) ExportStations(stations []models.Station) error {
	rows := make([]locationRow, len(stations))
	for i, s := range stations {
		rows[i] = locationRow{ID: int64(s.ID), Name: s.Name, Latitude: s.Latitude, Longitude: s.Longitude}
	}
	return writeParquet(filepath.Join(e.dir, "locations.parquet"), rows)
}

func (e *ParquetExporter) ExportForecasts(points []models.ForecastPoint) error {
	rows := make([]forecastRow, len(points))
	for i, p := range points {
		rows[i] = forecastRow{
			ID:          int64(p.ID),
			LocationID:  int64(p.LocationID),
			Date:        p.Date,
			Time:        p.Time,
			Temperature: p.Temperature,
		}
	}
	return writeParquet(filepath.Join(e.dir, "forecasts.parquet"), rows)
}

func writeParquet[T any](path string, rows []T) error {
	return writeAtomic(path, func(f io.Writer) error {
		w := parquet.NewGenericWriter[T](f)
		if _, err := w.Write(rows); err != nil {
			return err
		}
		return w.Close()
	})
}
