package offline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

// ErrQueueOverflow reports that a full queue had no room for the new
// request at its priority
var ErrQueueOverflow = errors.New("request queue at capacity")

// Priority orders queued requests: high drains before medium before low
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank maps priorities to sort order; unknown priorities sort last
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// QueuedRequest is one request waiting for connectivity
type QueuedRequest struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
	RetryCount int            `json:"retry_count"`
	Priority   Priority       `json:"priority"`
}

const (
	defaultQueueCapacity = 1000
	defaultBatchSize     = 5
	maxDispatchAttempts  = 3
	drainRescheduleDelay = time.Second
)

// DispatchFunc delivers a queued request once connectivity is back
type DispatchFunc func(ctx context.Context, req QueuedRequest) error

// RequestQueue is the durable, priority-ordered queue of requests that
// could not be dispatched immediately. The backing file is rewritten
// atomically on every mutation, so a crash loses at most one mutation.
type RequestQueue struct {
	mu       sync.Mutex
	items    []QueuedRequest
	capacity int
	batch    int
	path     string
	limiter  *rate.Limiter
	log      *logger.Logger
}

// NewRequestQueue creates a queue persisted at path. capacity <= 0 and
// batch <= 0 fall back to the defaults.
func NewRequestQueue(path string, capacity, batch int) *RequestQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &RequestQueue{
		capacity: capacity,
		batch:    batch,
		path:     path,
		limiter:  rate.NewLimiter(rate.Limit(20), batch),
		log:      logger.WithComponent("request_queue"),
	}
}

// Load restores the persisted queue. A corrupt file is deleted and the
// queue starts empty; persistence failures never block startup.
func (q *RequestQueue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.path == "" {
		return nil
	}

	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var items []QueuedRequest
	if err := json.Unmarshal(data, &items); err != nil {
		q.log.Warn("corrupt queue file removed", "path", q.path, "error", err)
		os.Remove(q.path)
		return nil
	}

	q.items = items
	q.log.Info("queue restored", "entries", len(items))
	return nil
}

// Enqueue inserts a request at its priority-respecting position and
// persists the full queue. Overflow drops from the tail with a logged count.
func (q *RequestQueue) Enqueue(reqType string, payload map[string]any, priority Priority) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := QueuedRequest{
		ID:        uuid.NewString(),
		Type:      reqType,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  priority,
	}

	// Insert before the first item of a strictly lower priority class,
	// keeping FIFO order within a class.
	pos := len(q.items)
	for i, item := range q.items {
		if item.Priority.rank() > priority.rank() {
			pos = i
			break
		}
	}
	q.items = append(q.items, QueuedRequest{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = req

	if dropped := len(q.items) - q.capacity; dropped > 0 {
		q.items = q.items[:q.capacity]
		if pos >= q.capacity {
			// The new request was the lowest-priority tail; the queue
			// is unchanged and the caller must not treat it as queued.
			q.log.Warn("queue overflow, request dropped", "type", reqType, "priority", string(priority))
			return "", ErrQueueOverflow
		}
		q.log.Warn("queue overflow, tail dropped", "dropped", dropped)
	}

	q.persistLocked()
	return req.ID, nil
}

// Drain dispatches queued requests in batches while connectivity holds.
// A failed dispatch is re-inserted at the front with its retry count
// incremented, up to the attempt cap, then dropped with a report. While
// items remain the drain reschedules itself after a short delay.
func (q *RequestQueue) Drain(ctx context.Context, online func() bool, dispatch DispatchFunc) {
	for {
		if ctx.Err() != nil || !online() {
			return
		}

		batch := q.popBatch()
		if len(batch) == 0 {
			return
		}

		for _, req := range batch {
			if ctx.Err() != nil {
				q.requeueFront(req)
				continue
			}
			if !online() {
				q.requeueFront(req)
				continue
			}
			if err := q.limiter.Wait(ctx); err != nil {
				q.requeueFront(req)
				continue
			}

			if err := dispatch(ctx, req); err != nil {
				req.RetryCount++
				if req.RetryCount >= maxDispatchAttempts {
					q.log.Error("queued request dropped after repeated failures",
						"id", req.ID, "type", req.Type, "attempts", req.RetryCount, "error", err)
					continue
				}
				q.log.Warn("dispatch failed, re-queued",
					"id", req.ID, "attempt", req.RetryCount, "error", err)
				q.requeueFront(req)
			}
		}

		if q.Len() == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(drainRescheduleDelay):
		}
	}
}

// Len returns the number of queued requests
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queue contents in drain order
func (q *RequestQueue) Items() []QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedRequest, len(q.items))
	copy(out, q.items)
	return out
}

// popBatch removes and returns up to one batch from the head
func (q *RequestQueue) popBatch() []QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.batch
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}

	batch := make([]QueuedRequest, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	q.persistLocked()
	return batch
}

// requeueFront puts a request back at the head of the queue
func (q *RequestQueue) requeueFront(req QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append([]QueuedRequest{req}, q.items...)
	if len(q.items) > q.capacity {
		q.items = q.items[:q.capacity]
	}
	q.persistLocked()
}

// persistLocked rewrites the backing file; the caller holds the lock.
// I/O failures are logged and the in-memory queue stays authoritative.
func (q *RequestQueue) persistLocked() {
	if q.path == "" {
		return
	}
	data, err := json.MarshalIndent(q.items, "", "  ")
	if err != nil {
		q.log.Error("failed to marshal queue", "error", err)
		return
	}
	if err := atomicWriteFile(q.path, data, 0644); err != nil {
		q.log.Error("failed to persist queue", "path", q.path, "error", err)
	}
}
