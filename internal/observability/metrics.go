package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the report server.
	HTTPRequestsTotal *prometheus.CounterVec

	// Report request latency. Watch for: slow report queries on large forecast tables.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// Rate limit denials on report routes.
	RateLimitDeniedTotal prometheus.Counter

	// Provider call rate by endpoint (directory, forecast) and status class.
	ProviderCallsTotal *prometheus.CounterVec

	// Provider latency per attempt. Watch for: p99 near the configured timeout.
	ProviderCallDuration *prometheus.HistogramVec

	// Retry attempts against the provider. High values = unstable upstream.
	ProviderRetriesTotal *prometheus.CounterVec

	// Provider circuit state: 0 closed, 1 open, 2 half-open.
	ProviderCircuitState prometheus.Gauge

	// Forecast batches by result (ok, failed) and failure reason.
	ForecastBatchesTotal *prometheus.CounterVec

	// Ingestion runs by result (done, failed).
	IngestRunsTotal *prometheus.CounterVec

	IngestRunDuration prometheus.Histogram

	// Unix time of the last run that reached Done. Alert when it stops moving.
	IngestLastSuccessTimestamp prometheus.Gauge

	// Rows written by the last successful replace, per table.
	IngestRowsLast *prometheus.GaugeVec

	RowsPersistedTotal *prometheus.CounterVec

	// Report cache lookups by report and result (hit, miss, bypass, error).
	ReportCacheTotal *prometheus.CounterVec

	ReportCacheWarmingDuration prometheus.Histogram

	PersistDuration *prometheus.HistogramVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of forecast provider calls",
		},
		[]string{"endpoint", "status"},
	)
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerCallDurationSeconds",
			Help:    "Forecast provider latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for provider calls",
		},
		[]string{"endpoint"},
	)
	ProviderCircuitState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "providerCircuitState",
			Help: "Provider circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)
	ForecastBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastBatchesTotal",
			Help: "Forecast batches processed, by result and failure reason",
		},
		[]string{"result", "reason"},
	)
	IngestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestRunsTotal",
			Help: "Ingestion runs by final state",
		},
		[]string{"result"},
	)
	IngestRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestRunDurationSeconds",
			Help:    "Wall time of one ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	IngestLastSuccessTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestLastSuccessTimestampSeconds",
			Help: "Unix time of the last ingestion run that completed",
		},
	)
	IngestRowsLast = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingestRowsLast",
			Help: "Rows written by the last completed run, per table",
		},
		[]string{"table"},
	)
	RowsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowsPersistedTotal",
			Help: "Rows written to the destination store, per table",
		},
		[]string{"table"},
	)
	PersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "persistDurationSeconds",
			Help:    "Time to replace one destination table",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	ReportCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportCacheTotal",
			Help: "Report cache lookups by report and result",
		},
		[]string{"report", "result"},
	)
	ReportCacheWarmingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportCacheWarmingDurationSeconds",
			Help:    "Time to load all reports into the cache after a run",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight, RateLimitDeniedTotal,
		ProviderCallsTotal, ProviderCallDuration, ProviderRetriesTotal, ProviderCircuitState,
		ForecastBatchesTotal,
		IngestRunsTotal, IngestRunDuration, IngestLastSuccessTimestamp, IngestRowsLast,
		RowsPersistedTotal, PersistDuration,
		ReportCacheTotal, ReportCacheWarmingDuration,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
