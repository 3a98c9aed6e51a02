package forecast

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/station-forecast-service/internal/client"
	"github.com/kjstillabower/station-forecast-service/internal/models"
)

func makeStations(n int) []models.Station {
	stations := make([]models.Station, n)
	for i := range stations {
		stations[i] = models.Station{
			ID:        i + 1,
			Name:      fmt.Sprintf("station-%04d", i+1),
			Latitude:  float64(i%180) - 89.5,
			Longitude: float64(i%360) - 179.5,
		}
	}
	return stations
}

// echoSource answers each request with two hourly samples per coordinate,
// echoing the requested coordinates. Calls listed in fail return an error.
type echoSource struct {
	calls int
	fail  map[int]error
	sizes []int
}

func (s *echoSource) FetchForecasts(_ context.Context, coords []models.Coordinate) (client.ForecastResponse, error) {
	call := s.calls
	s.calls++
	s.sizes = append(s.sizes, len(coords))
	if err, ok := s.fail[call]; ok {
		return client.ForecastResponse{}, err
	}

	series := make([]client.CoordinateSeries, len(coords))
	for i, c := range coords {
		series[i] = client.CoordinateSeries{
			Lat: c.Lat,
			Lon: c.Lon,
			Dates: []client.DatedValue{
				{Date: "2024-05-01T14:00:00Z", Value: 10.5},
				{Date: "2024-05-01T15:00:00Z", Value: 11.25},
			},
		}
	}
	return client.ForecastResponse{
		Status: "OK",
		Data:   []client.ParameterSeries{{Parameter: "t_2m:C", Coordinates: series}},
	}, nil
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name     string
		stations int
		size     int
		want     []int
	}{
		{"uneven tail", 1480, 500, []int{500, 500, 480}},
		{"exact multiple", 1000, 500, []int{500, 500}},
		{"smaller than batch", 3, 500, []int{3}},
		{"empty", 0, 500, []int{}},
		{"non-positive size falls back", 501, 0, []int{500, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := Partition(makeStations(tt.stations), tt.size)
			if len(batches) != len(tt.want) {
				t.Fatalf("len(batches) = %d, want %d", len(batches), len(tt.want))
			}
			next := 1
			for i, b := range batches {
				if len(b) != tt.want[i] {
					t.Errorf("batch %d size = %d, want %d", i, len(b), tt.want[i])
				}
				for _, s := range b {
					if s.ID != next {
						t.Fatalf("batch %d not contiguous: got id %d, want %d", i, s.ID, next)
					}
					next++
				}
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in       string
		wantDate string
		wantTime string
		wantErr  bool
	}{
		{in: "2024-05-01T14:30:00Z", wantDate: "2024-05-01", wantTime: "14:30:00"},
		{in: "2024-12-31T23:00:00Z", wantDate: "2024-12-31", wantTime: "23:00:00"},
		{in: "2024-05-01T01:30:00+02:00", wantDate: "2024-04-30", wantTime: "23:30:00"},
		{in: "2024-05-01", wantErr: true},
		{in: "not a timestamp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			date, clock, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTimestamp(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error = %v", tt.in, err)
			}
			if date != tt.wantDate || clock != tt.wantTime {
				t.Errorf("ParseTimestamp(%q) = %q, %q, want %q, %q", tt.in, date, clock, tt.wantDate, tt.wantTime)
			}
		})
	}
}

func TestFlatten_IndexMapping(t *testing.T) {
	batch := []models.Station{
		{ID: 7, Latitude: 55.3992, Longitude: 3.8103},
		{ID: 8, Latitude: 24.85, Longitude: -80.6333},
	}
	resp := client.ForecastResponse{Data: []client.ParameterSeries{{Coordinates: []client.CoordinateSeries{
		{Lat: 55.3992, Lon: 3.8103, Dates: []client.DatedValue{{Date: "2024-05-01T14:30:00Z", Value: 12.1}}},
		{Lat: 24.85001, Lon: -80.6333, Dates: []client.DatedValue{
			{Date: "2024-05-01T14:00:00Z", Value: 27.9},
			{Date: "2024-05-01T15:00:00Z", Value: 28.4},
		}},
	}}}}

	points, err := Flatten(batch, resp)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	want := []models.ForecastPoint{
		{LocationID: 7, Date: "2024-05-01", Time: "14:30:00", Temperature: 12.1},
		{LocationID: 8, Date: "2024-05-01", Time: "14:00:00", Temperature: 27.9},
		{LocationID: 8, Date: "2024-05-01", Time: "15:00:00", Temperature: 28.4},
	}
	if len(points) != len(want) {
		t.Fatalf("len(points) = %d, want %d", len(points), len(want))
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("points[%d] = %+v, want %+v", i, points[i], want[i])
		}
	}
}

func TestFlatten_Errors(t *testing.T) {
	batch := []models.Station{{ID: 1, Latitude: 47, Longitude: 8}, {ID: 2, Latitude: 46, Longitude: 7}}
	tests := []struct {
		name    string
		resp    client.ForecastResponse
		wantErr error
	}{
		{"no series", client.ForecastResponse{}, ErrNoSeries},
		{
			"count mismatch",
			client.ForecastResponse{Data: []client.ParameterSeries{{Coordinates: []client.CoordinateSeries{{Lat: 47, Lon: 8}}}}},
			ErrCoordinateCount,
		},
		{
			"coordinate mismatch",
			client.ForecastResponse{Data: []client.ParameterSeries{{Coordinates: []client.CoordinateSeries{
				{Lat: 47, Lon: 8}, {Lat: 46.01, Lon: 7},
			}}}},
			ErrCoordinateMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, err := Flatten(batch, tt.resp)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Flatten() error = %v, want %v", err, tt.wantErr)
			}
			if points != nil {
				t.Errorf("points = %v, want nil", points)
			}
		})
	}
}

func TestFetcher_AllBatchesSucceed(t *testing.T) {
	stations := makeStations(1480)
	src := &echoSource{}
	f := NewFetcher(src, 500, zap.NewNop())

	result, err := f.Fetch(context.Background(), stations)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Batches != 3 {
		t.Errorf("Batches = %d, want 3", result.Batches)
	}
	wantSizes := []int{500, 500, 480}
	for i, n := range src.sizes {
		if n != wantSizes[i] {
			t.Errorf("request %d size = %d, want %d", i, n, wantSizes[i])
		}
	}
	if len(result.Failed) != 0 {
		t.Errorf("Failed = %v, want none", result.Failed)
	}
	if got := len(result.Points); got != 2*1480 {
		t.Fatalf("len(Points) = %d, want %d", got, 2*1480)
	}

	valid := make(map[int]bool, len(stations))
	for _, s := range stations {
		valid[s.ID] = true
	}
	for i, p := range result.Points {
		if p.ID != i+1 {
			t.Fatalf("Points[%d].ID = %d, want %d", i, p.ID, i+1)
		}
		if !valid[p.LocationID] {
			t.Fatalf("Points[%d].LocationID = %d references no station", i, p.LocationID)
		}
	}
	if last := result.Points[len(result.Points)-1]; last.LocationID != 1480 || last.Time != "15:00:00" {
		t.Errorf("last point = %+v, want station 1480 at 15:00:00", last)
	}
}

func TestFetcher_FailedBatchIsSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	stations := makeStations(1480)
	src := &echoSource{fail: map[int]error{1: client.ErrUpstreamFailure}}
	f := NewFetcher(src, 500, zap.New(core))

	result, err := f.Fetch(context.Background(), stations)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3 (later batches continue)", src.calls)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("len(Failed) = %d, want 1", len(result.Failed))
	}
	be := result.Failed[0]
	if be.Index != 1 || be.FirstStationID != 501 || be.LastStationID != 1000 || be.Size != 500 {
		t.Errorf("BatchError = %+v", be)
	}
	if !errors.Is(be, client.ErrUpstreamFailure) {
		t.Errorf("BatchError does not wrap cause: %v", be)
	}

	if got, want := len(result.Points), 2*(500+480); got != want {
		t.Fatalf("len(Points) = %d, want %d", got, want)
	}
	for i, p := range result.Points {
		if p.ID != i+1 {
			t.Fatalf("Points[%d].ID = %d, want contiguous %d", i, p.ID, i+1)
		}
		if p.LocationID > 500 && p.LocationID <= 1000 {
			t.Fatalf("Points[%d] belongs to failed batch (location %d)", i, p.LocationID)
		}
	}

	entries := logs.FilterMessage("forecast batch failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["endpoint"] != client.EndpointForecast || fields["reason"] != "upstream_5xx" {
		t.Errorf("log fields = %v", fields)
	}
}

func TestFetcher_MismatchedResponseFailsBatch(t *testing.T) {
	src := sourceFunc(func(_ context.Context, coords []models.Coordinate) (client.ForecastResponse, error) {
		return client.ForecastResponse{Data: []client.ParameterSeries{{Coordinates: []client.CoordinateSeries{
			{Lat: coords[0].Lat, Lon: coords[0].Lon},
		}}}}, nil
	})
	f := NewFetcher(src, 10, nil)

	result, err := f.Fetch(context.Background(), makeStations(3))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.Failed) != 1 || !errors.Is(result.Failed[0], ErrCoordinateCount) {
		t.Fatalf("Failed = %v, want one coordinate count error", result.Failed)
	}
	if len(result.Points) != 0 {
		t.Errorf("len(Points) = %d, want 0", len(result.Points))
	}
}

func TestFetcher_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	src := sourceFunc(func(_ context.Context, coords []models.Coordinate) (client.ForecastResponse, error) {
		calls++
		cancel()
		return client.ForecastResponse{}, context.Canceled
	})
	f := NewFetcher(src, 2, nil)

	_, err := f.Fetch(ctx, makeStations(6))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestFetcher_NoStations(t *testing.T) {
	src := &echoSource{}
	result, err := NewFetcher(src, 500, nil).Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Batches != 0 || src.calls != 0 || len(result.Points) != 0 {
		t.Errorf("result = %+v, calls = %d", result, src.calls)
	}
}

type sourceFunc func(ctx context.Context, coords []models.Coordinate) (client.ForecastResponse, error)

func (f sourceFunc) FetchForecasts(ctx context.Context, coords []models.Coordinate) (client.ForecastResponse, error) {
	return f(ctx, coords)
}
