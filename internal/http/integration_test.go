//go:build integration
// +build integration

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/station-forecast-service/internal/directory"
	"github.com/kjstillabower/station-forecast-service/internal/forecast"
	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
	"github.com/kjstillabower/station-forecast-service/internal/pipeline"
	"github.com/kjstillabower/station-forecast-service/internal/store"
	testhelpers "github.com/kjstillabower/station-forecast-service/internal/testhelpers"
)

var testLogger *zap.Logger

func init() {
	var err error
	testLogger, err = observability.NewLogger()
	if err != nil {
		panic(err)
	}
}

// firstStations limits a directory fetch to n stations so the forecast call
// stays within one small batch.
type firstStations struct {
	src *directory.Fetcher
	n   int
}

func (f firstStations) Fetch(ctx context.Context) ([]models.Station, error) {
	stations, err := f.src.Fetch(ctx)
	if err != nil || len(stations) <= f.n {
		return stations, err
	}
	return stations[:f.n], nil
}

// setupIntegrationRouter runs one ingestion against the live provider into a
// fresh store and returns a router over it.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) (http.Handler, *pipeline.Pipeline) {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	s := testhelpers.SetupIntegrationStore(t, cfg)
	c := testhelpers.SetupIntegrationClient(t, cfg)

	p := pipeline.New(
		firstStations{src: directory.NewFetcher(c, testLogger), n: 20},
		forecast.NewFetcher(c, 10, testLogger),
		store.NewSink(s, nil, testLogger),
		testLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v (report %+v)", err, report)
	}
	if report.Stations == 0 || report.Forecasts == 0 {
		t.Fatalf("Run() report = %+v, want stations and forecasts", report)
	}

	h := NewHandler(s, p, testLogger)
	return NewRouter(h, RouterConfig{Logger: testLogger, Limiter: limiter, RequestTimeout: 10 * time.Second}), p
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestIntegration_ReportsAfterIngestion(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)

	for _, path := range []string{"/", "/locations", "/latest_forecast", "/average_temperature"} {
		w := get(router, path)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusOK)
		}
		if !strings.Contains(w.Body.String(), "<table") && path != "/" {
			t.Errorf("%s body has no table", path)
		}
	}
}

func TestIntegration_GetHealth_FullStack(t *testing.T) {
	router, p := setupIntegrationRouter(t, nil)

	w := get(router, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Status    string `json:"status"`
		Ingestion struct {
			LastRun pipeline.Report `json:"lastRun"`
		} `json:"ingestion"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	last, _ := p.Last()
	if resp.Status != "healthy" || resp.Ingestion.LastRun.RunID != last.RunID {
		t.Errorf("health = %+v, want healthy with run %s", resp, last.RunID)
	}
}

func TestIntegration_GetMetrics_Format(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)

	w := get(router, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, name := range []string{"ingestRunsTotal", "forecastBatchesTotal", "rowsPersistedTotal"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestIntegration_RateLimiting_Enforcement(t *testing.T) {
	router, _ := setupIntegrationRouter(t, rate.NewLimiter(rate.Limit(1), 2))

	var limited int
	for i := 0; i < 5; i++ {
		if get(router, "/locations").Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Error("expected at least one 429 after burst exhausted")
	}
	if get(router, "/health").Code == http.StatusTooManyRequests {
		t.Error("/health must not be rate limited")
	}
}
