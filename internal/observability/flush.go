package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry syncs buffered log output before process exit. Prometheus is
// pull-based, so there is nothing to push; ctx is reserved for push exporters.
//
// Syncing a terminal or pipe on stderr fails with EINVAL or ENOTTY on Linux
// and macOS; those are ignored.
func FlushTelemetry(_ context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !isUnsyncableStream(err) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

func isUnsyncableStream(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
