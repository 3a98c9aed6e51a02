package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/station-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/pipeline"
	"github.com/kjstillabower/station-forecast-service/internal/views"
)

func TestMain(m *testing.M) {
	if err := views.LoadTemplates(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type mockReportStore struct {
	locations []models.LocationRow
	latest    []models.LatestForecastRow
	averages  []models.AverageTemperatureRow
	queryErr  error
	pingErr   error
	block     chan struct{} // if set, queries block until ctx.Done()
}

func (m *mockReportStore) wait(ctx context.Context) error {
	if m.block == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.block:
		return nil
	}
}

func (m *mockReportStore) Locations(ctx context.Context) ([]models.LocationRow, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.locations, m.queryErr
}

func (m *mockReportStore) LatestForecasts(ctx context.Context) ([]models.LatestForecastRow, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.latest, m.queryErr
}

func (m *mockReportStore) AverageTemperatures(ctx context.Context) ([]models.AverageTemperatureRow, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return m.averages, m.queryErr
}

func (m *mockReportStore) Ping(ctx context.Context) error {
	return m.pingErr
}

type mockRuns struct {
	last    *pipeline.Report
	running bool
}

func (m *mockRuns) Last() (pipeline.Report, bool) {
	if m.last == nil {
		return pipeline.Report{}, false
	}
	return *m.last, true
}

func (m *mockRuns) Running() bool { return m.running }

func sampleStore() *mockReportStore {
	return &mockReportStore{
		locations: []models.LocationRow{{ID: 1, Name: "Aachen"}, {ID: 2, Name: "Bern"}},
		latest: []models.LatestForecastRow{
			{Name: "Aachen", Date: "2024-05-01", Time: "14:00:00", Temperature: 11.2},
		},
		averages: []models.AverageTemperatureRow{
			{Name: "Aachen", Date: "2024-05-01", AverageTemperature: 11.47},
		},
	}
}

func serve(t *testing.T, h *Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(h, RouterConfig{Logger: h.logger, RequestTimeout: time.Second})
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_ReportPages(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/", []string{"Station Forecasts", `href="/average_temperature"`}},
		{"/locations", []string{"Aachen", "Bern"}},
		{"/latest_forecast", []string{"Aachen", "2024-05-01", "14:00:00", "11.2"}},
		{"/average_temperature", []string{"Aachen", "11.47"}},
	}
	h := NewHandler(sampleStore(), nil, zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(t, h, http.MethodGet, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Content-Type = %q, want text/html", ct)
			}
			body := w.Body.String()
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("body missing %q", s)
				}
			}
		})
	}
}

func TestHandler_HomeShowsLastRun(t *testing.T) {
	runs := &mockRuns{last: &pipeline.Report{
		State:     pipeline.StateDone,
		StartedAt: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		Stations:  1480,
		Forecasts: 240000,
	}}
	h := NewHandler(sampleStore(), runs, nil)

	w := serve(t, h, http.MethodGet, "/")
	if !strings.Contains(w.Body.String(), "1480 stations") {
		t.Errorf("home page missing last run summary: %s", w.Body.String())
	}
}

func TestHandler_QueryFailureRenders503(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := sampleStore()
	store.queryErr = errors.New("relation \"forecasts\" does not exist")
	h := NewHandler(store, nil, zap.New(core))

	for _, path := range []string{"/locations", "/latest_forecast", "/average_temperature"} {
		w := serve(t, h, http.MethodGet, path)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
		}
		if !strings.Contains(w.Body.String(), "temporarily unavailable") {
			t.Errorf("%s body missing error message", path)
		}
		if strings.Contains(w.Body.String(), "does not exist") {
			t.Errorf("%s leaked database error", path)
		}
	}
	if got := logs.FilterMessage("report query failed").Len(); got != 3 {
		t.Errorf("logged %d query failures, want 3", got)
	}
}

func TestNewRouter_DefaultsToHandlerLogger(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := sampleStore()
	store.queryErr = errors.New("connection refused")
	h := NewHandler(store, nil, zap.New(core))

	router := NewRouter(h, RouterConfig{RequestTimeout: time.Second})
	req := httptest.NewRequest(http.MethodGet, "/locations", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("report query failed").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d query failures, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "corr-123" {
		t.Errorf("correlation_id = %v, want corr-123", got)
	}
}

func TestHandler_RequestTimeout(t *testing.T) {
	store := sampleStore()
	store.block = make(chan struct{})
	defer close(store.block)
	h := NewHandler(store, nil, nil)

	router := NewRouter(h, RouterConfig{RequestTimeout: 20 * time.Millisecond})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/locations", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(sampleStore(), nil, nil)
	w := serve(t, h, http.MethodPost, "/locations")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_GetHealth(t *testing.T) {
	tests := []struct {
		name         string
		shutdown     bool
		pingErr      error
		wantStatus   string
		wantCode     int
		wantDatabase string
	}{
		{name: "healthy", wantStatus: "healthy", wantCode: http.StatusOK, wantDatabase: "healthy"},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: "degraded", wantCode: http.StatusServiceUnavailable, wantDatabase: "unhealthy"},
		{name: "shutting down", shutdown: true, wantStatus: "shutting-down", wantCode: http.StatusServiceUnavailable, wantDatabase: "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle.SetShuttingDown(tt.shutdown)
			defer lifecycle.SetShuttingDown(false)

			store := sampleStore()
			store.pingErr = tt.pingErr
			h := NewHandler(store, nil, nil)

			w := serve(t, h, http.MethodGet, "/health")
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Checks["database"] != tt.wantDatabase {
				t.Errorf("checks.database = %q, want %q", resp.Checks["database"], tt.wantDatabase)
			}
		})
	}
}

func TestHandler_GetHealth_IncludesIngestion(t *testing.T) {
	runs := &mockRuns{
		running: true,
		last: &pipeline.Report{
			RunID:           "8a0f6a1e-5f2b-4bb1-9d1c-2f0a3b7c9e11",
			State:           pipeline.StateFailed,
			Error:           "station directory fetch from directory: unauthorized",
			Duration:        1500 * time.Millisecond,
			DurationSeconds: 1.5,
		},
	}
	h := NewHandler(sampleStore(), runs, nil)

	w := serve(t, h, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200 (failed run does not degrade health)", w.Code)
	}
	var resp struct {
		Ingestion struct {
			Running bool                   `json:"running"`
			LastRun map[string]interface{} `json:"lastRun"`
		} `json:"ingestion"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ingestion.Running {
		t.Error("ingestion.running = false, want true")
	}
	last := resp.Ingestion.LastRun
	if last["state"] != string(pipeline.StateFailed) || last["runId"] != runs.last.RunID {
		t.Errorf("ingestion.lastRun = %v", last)
	}
	if got := last["durationSeconds"]; got != 1.5 {
		t.Errorf("lastRun.durationSeconds = %v, want 1.5", got)
	}
	if _, ok := last["duration"]; ok {
		t.Errorf("lastRun carries raw duration: %v", last["duration"])
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := sampleStore()
	h := NewHandler(store, nil, zap.New(core))

	serve(t, h, http.MethodGet, "/health")
	store.pingErr = errors.New("connection refused")
	serve(t, h, http.MethodGet, "/health")

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" {
		t.Errorf("transition fields = %v", fields)
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := NewHandler(sampleStore(), nil, nil)
	w := serve(t, h, http.MethodGet, "/stations/42")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
