package offline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/faults"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	maxJitterFraction = 0.25
)

// Operation is any retryable async call
type Operation func(ctx context.Context) (any, error)

// OpStats records per-operation retry behavior
type OpStats struct {
	Attempts  int
	Successes int
	Failures  int
	Retries   int
}

// RetryEngine wraps operations with exponential backoff and jitter.
// Permanent failures surface immediately; transient failures are retried
// while connectivity holds.
type RetryEngine struct {
	maxRetries int
	baseDelay  time.Duration
	online     func() bool

	mu    sync.Mutex
	stats map[string]*OpStats
	rng   *rand.Rand
	log   *logger.Logger
}

// NewRetryEngine creates an engine. online reports current connectivity;
// nil means "always online". maxRetries <= 0 and baseDelay <= 0 fall back
// to the defaults.
func NewRetryEngine(maxRetries int, baseDelay time.Duration, online func() bool) *RetryEngine {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if online == nil {
		online = func() bool { return true }
	}
	return &RetryEngine{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		online:     online,
		stats:      make(map[string]*OpStats),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logger.WithComponent("retry_engine"),
	}
}

// Run executes op, retrying transient failures up to the engine's limit.
// Exhausting retries returns the last error. Going offline between
// attempts aborts with faults.ErrOffline.
func (r *RetryEngine) Run(ctx context.Context, name string, op Operation) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries+1; attempt++ {
		if attempt > 1 {
			delay := r.backoff(attempt - 1)
			r.log.Debug("retrying operation", "name", name, "attempt", attempt, "delay", delay)

			select {
			case <-ctx.Done():
				r.record(name, false, attempt-1)
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			// Losing connectivity mid-sequence is an implicit cancel
			if !r.online() {
				r.record(name, false, attempt-1)
				return nil, faults.ErrOffline
			}
		}

		result, err := op(ctx)
		if err == nil {
			r.record(name, true, attempt-1)
			return result, nil
		}
		lastErr = err

		if faults.IsPermanent(err) {
			r.log.Warn("permanent failure, not retrying", "name", name, "error", err)
			r.record(name, false, attempt-1)
			return nil, err
		}
		if ctx.Err() != nil {
			r.record(name, false, attempt-1)
			return nil, ctx.Err()
		}
	}

	r.log.Error("retries exhausted", "name", name, "retries", r.maxRetries, "error", lastErr)
	r.record(name, false, r.maxRetries)
	return nil, lastErr
}

// Stats returns a copy of the recorded stats for an operation name
func (r *RetryEngine) Stats(name string) OpStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[name]; ok {
		return *s
	}
	return OpStats{}
}

// backoff computes baseDelay * 2^(retry-1) * (1 + jitter), jitter in [0, 0.25]
func (r *RetryEngine) backoff(retry int) time.Duration {
	delay := float64(r.baseDelay) * float64(int(1)<<(retry-1))

	r.mu.Lock()
	jitter := r.rng.Float64() * maxJitterFraction
	r.mu.Unlock()

	return time.Duration(delay * (1 + jitter))
}

func (r *RetryEngine) record(name string, success bool, retries int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[name]
	if !ok {
		s = &OpStats{}
		r.stats[name] = s
	}
	s.Attempts++
	s.Retries += retries
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
}
