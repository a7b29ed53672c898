// Package offline is the resilience subsystem: a durable priority queue
// for requests that cannot be dispatched, a size/TTL-bounded response
// cache, a backoff retry engine, and the connectivity probe composing them.
package offline

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

// ExecuteResult is the outcome of a coordinated request
type ExecuteResult struct {
	Response any
	Cached   bool
	QueuedID string // set when the request was queued for later dispatch
}

// Queued reports whether the request was deferred rather than answered
func (r ExecuteResult) Queued() bool {
	return r.QueuedID != ""
}

// Options configures a Coordinator
type Options struct {
	CacheDir       string
	CacheCapacity  int64
	CacheTTL       time.Duration
	SweepInterval  time.Duration
	QueueCapacity  int
	QueueBatch     int
	MaxRetries     int
	RetryBaseDelay time.Duration
	ProbeInterval  time.Duration
}

// Coordinator composes the cache, queue, retry engine and probe behind one
// execute/enqueue/drain surface.
type Coordinator struct {
	Cache *ResponseCache
	Queue *RequestQueue
	Retry *RetryEngine
	Probe *ConnectivityProbe

	dispatch DispatchFunc
	execute  Operation

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	log    *logger.Logger
}

// NewCoordinator builds the subsystem. health drives the probe; dispatch
// delivers drained queue entries.
func NewCoordinator(opts Options, health HealthCheck, dispatch DispatchFunc) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	queuePath := ""
	cacheDir := ""
	if opts.CacheDir != "" {
		queuePath = filepath.Join(opts.CacheDir, "queue.json")
		cacheDir = filepath.Join(opts.CacheDir, "responses")
	}

	c := &Coordinator{
		Cache:    NewResponseCache(cacheDir, opts.CacheCapacity, opts.CacheTTL),
		Queue:    NewRequestQueue(queuePath, opts.QueueCapacity, opts.QueueBatch),
		Probe:    NewConnectivityProbe(health, opts.ProbeInterval),
		dispatch: dispatch,
		ctx:      ctx,
		cancel:   cancel,
		log:      logger.WithComponent("offline_coordinator"),
	}
	c.Retry = NewRetryEngine(opts.MaxRetries, opts.RetryBaseDelay, c.Probe.Online)

	// Coming back online drains whatever accumulated while offline
	c.Probe.AddListener(func(online bool) {
		if online {
			go c.Drain()
		}
	})

	return c
}

// Start restores persisted state and begins the probe and cache sweeper
func (c *Coordinator) Start(sweepInterval time.Duration) error {
	if err := c.Queue.Load(); err != nil {
		c.log.Warn("queue restore failed", "error", err)
	}
	if err := c.Cache.Load(); err != nil {
		c.log.Warn("cache restore failed", "error", err)
	}

	c.Cache.StartSweeper(c.ctx, sweepInterval)

	// The probe starts optimistic, so a healthy first check is not a
	// transition and would never trigger the drain listener. Entries
	// restored from a previous offline session need an explicit kick.
	if c.Queue.Len() > 0 && c.Probe.Check(c.ctx) {
		c.log.Info("draining requests restored from previous session", "queued", c.Queue.Len())
		go c.Drain()
	}

	c.Probe.Start(c.ctx)
	return nil
}

// Execute answers a request from cache when possible, dispatches with
// retries while online, and queues it while offline.
func (c *Coordinator) Execute(ctx context.Context, reqType string, payload map[string]any, priority Priority, op Operation) (ExecuteResult, error) {
	if cached, ok := c.Cache.Get(payload); ok {
		c.log.Debug("cache hit", "type", reqType)
		return ExecuteResult{Response: cached, Cached: true}, nil
	}

	if !c.Probe.Online() {
		id, err := c.Queue.Enqueue(reqType, payload, priority)
		if err != nil {
			return ExecuteResult{}, err
		}
		c.log.Info("offline, request queued", "type", reqType, "id", id)
		return ExecuteResult{QueuedID: id}, nil
	}

	response, err := c.Retry.Run(ctx, reqType, op)
	if err != nil {
		return ExecuteResult{}, err
	}

	if err := c.Cache.Put(payload, response, 0); err != nil {
		c.log.Warn("caching response failed", "type", reqType, "error", err)
	}
	return ExecuteResult{Response: response}, nil
}

// Drain dispatches queued requests while online
func (c *Coordinator) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queue.Drain(c.ctx, c.Probe.Online, c.dispatch)
}

// Close stops the probe, sweeper and any running drain
func (c *Coordinator) Close() {
	c.cancel()
}
