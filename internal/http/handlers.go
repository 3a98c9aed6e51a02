package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/station-forecast-service/internal/lifecycle"
	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
	"github.com/kjstillabower/station-forecast-service/internal/pipeline"
	"github.com/kjstillabower/station-forecast-service/internal/views"
)

// ReportStore is the read side of the destination database.
type ReportStore interface {
	Locations(ctx context.Context) ([]models.LocationRow, error)
	LatestForecasts(ctx context.Context) ([]models.LatestForecastRow, error)
	AverageTemperatures(ctx context.Context) ([]models.AverageTemperatureRow, error)
	Ping(ctx context.Context) error
}

// RunStatus exposes the ingestion pipeline's state to the health endpoint.
type RunStatus interface {
	Last() (pipeline.Report, bool)
	Running() bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	reports          ReportStore
	runs             RunStatus
	logger           *zap.Logger
	pingTimeout      time.Duration
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. runs may be nil when ingestion is disabled.
func NewHandler(reports ReportStore, runs RunStatus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		reports:     reports,
		runs:        runs,
		logger:      logger,
		pingTimeout: 2 * time.Second,
	}
}

// GetHome handles GET /.
func (h *Handler) GetHome(w http.ResponseWriter, r *http.Request) {
	data := &views.HomeData{}
	if h.runs != nil {
		if last, ok := h.runs.Last(); ok {
			data.LastRun = &views.RunSummary{
				State:     string(last.State),
				StartedAt: last.StartedAt,
				Stations:  last.Stations,
				Forecasts: last.Forecasts,
			}
		}
	}
	h.writePage(w, r, http.StatusOK, func(buf *bytes.Buffer) error {
		return views.RenderHome(buf, data)
	})
}

// GetLocations handles GET /locations.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.Locations(r.Context())
	if err != nil {
		h.writeQueryError(w, r, "locations", err)
		return
	}
	h.writePage(w, r, http.StatusOK, func(buf *bytes.Buffer) error {
		return views.RenderLocations(buf, &views.LocationsData{Rows: rows})
	})
}

// GetLatestForecast handles GET /latest_forecast.
func (h *Handler) GetLatestForecast(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.LatestForecasts(r.Context())
	if err != nil {
		h.writeQueryError(w, r, "latest_forecast", err)
		return
	}
	h.writePage(w, r, http.StatusOK, func(buf *bytes.Buffer) error {
		return views.RenderLatestForecast(buf, &views.LatestForecastData{Rows: rows})
	})
}

// GetAverageTemperature handles GET /average_temperature.
func (h *Handler) GetAverageTemperature(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.AverageTemperatures(r.Context())
	if err != nil {
		h.writeQueryError(w, r, "average_temperature", err)
		return
	}
	h.writePage(w, r, http.StatusOK, func(buf *bytes.Buffer) error {
		return views.RenderAverageTemperature(buf, &views.AverageTemperatureData{Rows: rows})
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"database": "healthy"}
	if result.reason == "database_unreachable" {
		checks["database"] = "unhealthy"
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if ingestion := h.ingestionStatus(); ingestion != nil {
		resp["ingestion"] = ingestion
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > database unreachable (degraded) > healthy.
// A failed last ingestion run does not degrade health; reports keep serving
// the previous data.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()
	if err := h.reports.Ping(pingCtx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "database_unreachable"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) ingestionStatus() map[string]interface{} {
	if h.runs == nil {
		return nil
	}
	status := map[string]interface{}{"running": h.runs.Running()}
	if last, ok := h.runs.Last(); ok {
		status["lastRun"] = last
	}
	return status
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writePage renders into a buffer first so a template failure never leaves a
// half-written 200 response.
func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, status int, render func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		LoggerFrom(r.Context(), h.logger).Error("render page", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// writeQueryError renders a 503 page for a failed report query.
func (h *Handler) writeQueryError(w http.ResponseWriter, r *http.Request, report string, err error) {
	LoggerFrom(r.Context(), h.logger).Warn("report query failed",
		zap.String("report", report),
		zap.String("request_id", CorrelationID(r.Context())),
		zap.Error(err))
	h.writePage(w, r, http.StatusServiceUnavailable, func(buf *bytes.Buffer) error {
		return views.RenderError(buf, &views.ErrorData{Message: "Report data is temporarily unavailable. Please retry shortly."})
	})
}
