package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/station-forecast-service/internal/circuitbreaker"
	"github.com/kjstillabower/station-forecast-service/internal/models"
	"github.com/kjstillabower/station-forecast-service/internal/observability"
)

// Provider is the forecast provider as seen by the ingestion pipeline.
type Provider interface {
	// FetchStationDirectory returns the raw semicolon-delimited station table.
	FetchStationDirectory(ctx context.Context) ([]byte, error)
	// FetchForecasts requests the configured parameter for every coordinate in one call.
	FetchForecasts(ctx context.Context, coords []models.Coordinate) (ForecastResponse, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUpstreamFailure    = errors.New("upstream failure")
	ErrEmptyRequest       = errors.New("no coordinates to request")
)

const (
	EndpointDirectory = "directory"
	EndpointForecast  = "forecast"

	maxResponseBytes = 64 << 20
)

// Credentials are the provider's HTTP Basic auth pair.
type Credentials struct {
	User     string
	Password string
}

// Options configures a MeteomaticsClient. Zero retry fields fall back to one attempt.
type Options struct {
	BaseURL        string
	Credentials    Credentials
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	StationSource  string // find_station source, e.g. "mm-mos"
	Parameter      string // e.g. "t_2m:C"
	Window         string // e.g. "nowP7D"
}

// ForecastResponse is the provider's JSON envelope for a multi-point query.
type ForecastResponse struct {
	Version string            `json:"version"`
	Status  string            `json:"status"`
	Data    []ParameterSeries `json:"data"`
}

type ParameterSeries struct {
	Parameter   string             `json:"parameter"`
	Coordinates []CoordinateSeries `json:"coordinates"`
}

type CoordinateSeries struct {
	Lat   float64      `json:"lat"`
	Lon   float64      `json:"lon"`
	Dates []DatedValue `json:"dates"`
}

type DatedValue struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type MeteomaticsClient struct {
	baseURL        string
	credentials    Credentials
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	stationSource  string
	parameter      string
	window         string
	breaker        *circuitbreaker.CircuitBreaker
}

func NewMeteomaticsClient(opts Options) (*MeteomaticsClient, error) {
	if opts.Credentials.User == "" || opts.Credentials.Password == "" {
		return nil, fmt.Errorf("%w: user and password are required", ErrInvalidCredentials)
	}
	if _, err := url.Parse(opts.BaseURL); err != nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("invalid provider URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.StationSource == "" {
		opts.StationSource = "mm-mos"
	}
	if opts.Parameter == "" {
		opts.Parameter = "t_2m:C"
	}
	if opts.Window == "" {
		opts.Window = "nowP7D"
	}

	return &MeteomaticsClient{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		credentials:    opts.Credentials,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		stationSource:  opts.StationSource,
		parameter:      opts.Parameter,
		window:         opts.Window,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

func (c *MeteomaticsClient) FetchStationDirectory(ctx context.Context) ([]byte, error) {
	params := url.Values{}
	params.Set("source", c.stationSource)
	return c.get(ctx, EndpointDirectory, c.baseURL+"/find_station?"+params.Encode())
}

func (c *MeteomaticsClient) FetchForecasts(ctx context.Context, coords []models.Coordinate) (ForecastResponse, error) {
	if len(coords) == 0 {
		return ForecastResponse{}, ErrEmptyRequest
	}
	body, err := c.get(ctx, EndpointForecast, c.forecastURL(coords))
	if err != nil {
		return ForecastResponse{}, err
	}

	var resp ForecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ForecastResponse{}, fmt.Errorf("parse forecast response: %w", err)
	}
	return resp, nil
}

func (c *MeteomaticsClient) forecastURL(coords []models.Coordinate) string {
	return c.baseURL + "/" + c.window + "/" + c.parameter + "/" + FormatCoordinates(coords) + "/json"
}

// FormatCoordinates renders "lat,lon+lat,lon+..." using the shortest decimal
// form of each value, so 47.0 becomes "47" and 55.3992 stays "55.3992".
func FormatCoordinates(coords []models.Coordinate) string {
	var b strings.Builder
	for i, c := range coords {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString(strconv.FormatFloat(c.Lat, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Lon, 'f', -1, 64))
	}
	return b.String()
}

// SetCircuitBreaker guards every provider request (all retries included) with cb.
// Only transient failures count against the circuit.
func (c *MeteomaticsClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// IsTransient reports whether err is a provider-side failure: 5xx, 429, a
// timeout or a network error.
func IsTransient(err error) bool {
	if isRetryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *MeteomaticsClient) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	if c.breaker == nil {
		return c.getWithRetry(ctx, endpoint, rawURL)
	}
	var body []byte
	err := c.breaker.Call(ctx, func() error {
		var err error
		body, err = c.getWithRetry(ctx, endpoint, rawURL)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
		return nil, fmt.Errorf("%s endpoint: %w", endpoint, err)
	}
	return body, err
}

// getWithRetry performs a GET with retries on transient failures and returns the body.
func (c *MeteomaticsClient) getWithRetry(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.callAPI(ctx, endpoint, rawURL)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return nil, err
		}
	}

	if c.retryAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted %d attempts: %w", c.retryAttempts, lastErr)
}

func (c *MeteomaticsClient) callAPI(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.SetBasicAuth(c.credentials.User, c.credentials.Password)

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.ProviderCallDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s request timeout: %w", endpoint, err)
		}
		return nil, fmt.Errorf("%s http request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.ProviderCallDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(endpoint, resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response body: %w", endpoint, err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (c *MeteomaticsClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if c.retryMaxDelay > 0 && delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(endpoint string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s endpoint HTTP %d", ErrUnauthorized, endpoint, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s endpoint", ErrNotFound, endpoint)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s endpoint", ErrRateLimited, endpoint)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s endpoint HTTP %d", ErrUpstreamFailure, endpoint, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Provider puts the reason for 4xx in the body; keep a bounded prefix.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s endpoint HTTP %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
