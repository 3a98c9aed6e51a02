package export

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strconv"

	"github.com/kjstillabower/station-forecast-service/internal/models"
)

// CSVExporter writes locations.csv and forecasts.csv with a header row and an
// explicit leading id column. Output is a pure function of the rows.
type CSVExporter struct {
	dir string
}

func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{dir: dir}
}

func (e *CSVExporter) ExportStations(stations []models.Station) error {
	return writeAtomic(filepath.Join(e.dir, "locations.csv"), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "name", "latitude", "longitude"}); err != nil {
			return err
		}
		for _, s := range stations {
			if err := cw.Write([]string{
				strconv.Itoa(s.ID),
				s.Name,
				formatFloat(s.Latitude),
				formatFloat(s.Longitude),
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func (e *CSVExporter) ExportForecasts(points []models.ForecastPoint) error {
	return writeAtomic(filepath.Join(e.dir, "forecasts.csv"), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "location_id", "date", "time", "temperature"}); err != nil {
			return err
		}
		for _, p := range points {
			if err := cw.Write([]string{
				strconv.Itoa(p.ID),
				strconv.Itoa(p.LocationID),
				p.Date,
				p.Time,
				formatFloat(p.Temperature),
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
