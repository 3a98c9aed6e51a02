// Package lifecycle holds process-wide shutdown state shared by the report
// server and ingestion runs.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

var shuttingDown atomic.Bool

var (
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
)

func init() {
	ctx, cancel = context.WithCancel(context.Background())
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Setting it cancels Context(); clearing it issues a fresh one.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	mu.Lock()
	defer mu.Unlock()
	shuttingDown.Store(v)
	if v {
		cancel()
		return
	}
	if ctx.Err() != nil {
		ctx, cancel = context.WithCancel(context.Background())
	}
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Context is cancelled once shutdown begins. Ingestion runs started outside a
// request use it so they stop between batches on SIGTERM.
func Context() context.Context {
	mu.Lock()
	defer mu.Unlock()
	return ctx
}
