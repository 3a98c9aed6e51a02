package cache

import (
	"context"
	"sync"
	"time"
)

// inFlightQuery is a report query that concurrent callers wait on.
type inFlightQuery struct {
	done   chan struct{}
	result []byte
	err    error
}

// queryCoalescer runs at most one query per key at a time. Callers that
// arrive while a query for the same key is running share its result.
type queryCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightQuery
	timeout  time.Duration
}

func newQueryCoalescer(timeout time.Duration) *queryCoalescer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &queryCoalescer{inFlight: make(map[string]*inFlightQuery), timeout: timeout}
}

// Do runs fn for key or joins the call already in flight. The query runs
// detached from any single caller's cancellation, bounded by the coalescer
// timeout; a caller whose ctx ends stops waiting and gets ctx.Err().
func (qc *queryCoalescer) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	qc.mu.Lock()
	q, ok := qc.inFlight[key]
	if !ok {
		q = &inFlightQuery{done: make(chan struct{})}
		qc.inFlight[key] = q
		go qc.run(context.WithoutCancel(ctx), key, q, fn)
	}
	qc.mu.Unlock()

	select {
	case <-q.done:
		return q.result, q.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (qc *queryCoalescer) run(ctx context.Context, key string, q *inFlightQuery, fn func(context.Context) ([]byte, error)) {
	ctx, cancel := context.WithTimeout(ctx, qc.timeout)
	defer cancel()
	q.result, q.err = fn(ctx)

	qc.mu.Lock()
	delete(qc.inFlight, key)
	qc.mu.Unlock()
	close(q.done)
}
