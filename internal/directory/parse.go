package directory

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/validation"
)

const (
	columnName   = "Name"
	columnLatLon = "Location Lat,Lon"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")
	// ErrMalformedRow is returned for a data row that cannot be parsed.
	ErrMalformedRow = errors.New("malformed row")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record is one parsed row of the station table, before deduplication.
type Record struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Parse reads the semicolon-delimited station table. Only the Name and
// "Location Lat,Lon" columns are used; any malformed row fails the payload.
func Parse(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read directory payload: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty payload, expected %q and %q", ErrMissingColumn, columnName, columnLatLon)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	nameIdx, latLonIdx := -1, -1
	for i, cell := range header {
		switch strings.TrimSpace(cell) {
		case columnName:
			nameIdx = i
		case columnLatLon:
			latLonIdx = i
		}
	}
	if nameIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, columnName)
	}
	if latLonIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, columnLatLon)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
		}
		line, _ := reader.FieldPos(0)
		if isBlank(row) {
			continue
		}
		if nameIdx >= len(row) || latLonIdx >= len(row) {
			return nil, fmt.Errorf("%w: line %d: expected at least %d fields, got %d",
				ErrMalformedRow, line, max(nameIdx, latLonIdx)+1, len(row))
		}

		rec, err := parseRecord(row[nameIdx], row[latLonIdx])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(name, latLon string) (Record, error) {
	name, err := validation.ValidateStationName(name)
	if err != nil {
		return Record{}, err
	}

	latStr, lonStr, ok := strings.Cut(latLon, ",")
	if !ok {
		return Record{}, fmt.Errorf("location %q is not \"lat,lon\"", latLon)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Record{}, fmt.Errorf("latitude %q: %w", latStr, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Record{}, fmt.Errorf("longitude %q: %w", lonStr, err)
	}
	if err := validation.ValidateCoordinate(lat, lon); err != nil {
		return Record{}, fmt.Errorf("%q: %w", latLon, err)
	}

	return Record{Name: name, Latitude: lat, Longitude: lon}, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Normalize deduplicates records by name (first occurrence wins), sorts them
// by name and assigns IDs 1..N in that order.
func Normalize(records []Record) []models.Station {
	seen := make(map[string]struct{}, len(records))
	stations := make([]models.Station, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Name]; dup {
			continue
		}
		seen[rec.Name] = struct{}{}
		stations = append(stations, models.Station{
			Name:      rec.Name,
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
		})
	}

	slices.SortStableFunc(stations, func(a, b models.Station) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i := range stations {
		stations[i].ID = i + 1
	}
	return stations
}
