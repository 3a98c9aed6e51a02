package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/station-forecast-service/internal/observability"
)

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger // nil uses the handler's logger
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration
}

// NewRouter wires the report pages, /health and /metrics. Rate limiting and
// the request timeout apply to report pages only.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = h.logger
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	reports := router.NewRoute().Subrouter()
	reports.Use(RateLimitMiddleware(cfg.Limiter))
	reports.Use(TimeoutMiddleware(cfg.RequestTimeout))
	reports.HandleFunc("/", h.GetHome).Methods(http.MethodGet)
	reports.HandleFunc("/locations", h.GetLocations).Methods(http.MethodGet)
	reports.HandleFunc("/latest_forecast", h.GetLatestForecast).Methods(http.MethodGet)
	reports.HandleFunc("/average_temperature", h.GetAverageTemperature).Methods(http.MethodGet)

	return router
}
