package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/kjstillabower/station-forecast-service/internal/circuitbreaker"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the reason label of forecastBatchesTotal.
const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryUnauthorized ErrorCategory = "unauthorized"
	ErrorCategoryNotFound     ErrorCategory = "not_found"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx  ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing      ErrorCategory = "parsing"
	ErrorCategoryValidation   ErrorCategory = "validation"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		return ErrorCategoryUnauthorized
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ErrorCategoryParsing
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection"):
		return ErrorCategoryNetwork
	case strings.Contains(errStr, "timeout"):
		return ErrorCategoryTimeout
	case strings.Contains(errStr, "parse"):
		return ErrorCategoryParsing
	case strings.Contains(errStr, "mismatch"), strings.Contains(errStr, "invalid"):
		return ErrorCategoryValidation
	}
	return ErrorCategoryUnknown
}
