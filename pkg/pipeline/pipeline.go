package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
)

// Direction marks which way a message is flowing through the gateway
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// ErrQueueFull is returned when the serialization queue is at capacity
var ErrQueueFull = errors.New("pipeline queue is full")

// ErrClosed is returned when submitting to a closed pipeline
var ErrClosed = errors.New("pipeline is closed")

const defaultQueueSize = 100

// Context wraps one message for a single pipeline execution. It is owned
// exclusively by that execution; middlewares may mutate it freely.
type Context struct {
	Message   message.Message
	Direction Direction
	Source    string
	Target    string
	StartTime time.Time
	Metadata  map[string]any
}

// StepTrace records one middleware's execution for failure reports
type StepTrace struct {
	Name    string
	Start   time.Time
	End     time.Time
	Success bool
	Err     string
}

// Result is the outcome of one pipeline pass
type Result struct {
	Message  message.Message
	Metadata map[string]any
	Trace    []StepTrace
}

// Middleware is one ordered-chain unit. Handle may inspect or mutate the
// context, short-circuit by not calling next, or post-process after next
// returns. Lower priority executes earlier.
type Middleware interface {
	Name() string
	Priority() int
	Handle(pc *Context, next func() error) error
}

type submission struct {
	pc     *Context
	result *Result
	err    error
	done   chan struct{}
}

// Pipeline threads every message through the ordered middleware chain.
// Submissions are serialized through a bounded FIFO queue drained by a
// single worker, so state mutations apply in submission order.
type Pipeline struct {
	middlewares []Middleware
	queue       chan *submission
	log         *logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithQueueSize overrides the serialization queue bound
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queue = make(chan *submission, n)
		}
	}
}

// New creates a pipeline with the given middlewares, sorted ascending by
// priority, and starts the drain worker.
func New(middlewares []Middleware, opts ...Option) *Pipeline {
	p := &Pipeline{
		middlewares: make([]Middleware, len(middlewares)),
		queue:       make(chan *submission, defaultQueueSize),
		log:         logger.WithComponent("pipeline"),
	}
	copy(p.middlewares, middlewares)
	sort.SliceStable(p.middlewares, func(i, j int) bool {
		return p.middlewares[i].Priority() < p.middlewares[j].Priority()
	})

	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.drain()

	return p
}

// Process submits a message and blocks until its pass completes. A full
// queue fails immediately with ErrQueueFull rather than blocking the caller.
func (p *Pipeline) Process(ctx context.Context, msg message.Message, direction Direction, source, target string) (*Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	sub := &submission{
		pc: &Context{
			Message:   msg,
			Direction: direction,
			Source:    source,
			Target:    target,
			StartTime: time.Now(),
			Metadata:  make(map[string]any),
		},
		done: make(chan struct{}),
	}

	select {
	case p.queue <- sub:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		return nil, ErrQueueFull
	}

	select {
	case <-sub.done:
		return sub.result, sub.err
	case <-ctx.Done():
		// The worker still completes the pass; the caller stops waiting
		return nil, ctx.Err()
	}
}

// Close stops accepting submissions and waits for the queue to empty
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pipeline) drain() {
	defer p.wg.Done()
	for sub := range p.queue {
		sub.result, sub.err = p.run(sub.pc)
		close(sub.done)
	}
}

// run executes the middleware chain for one context
func (p *Pipeline) run(pc *Context) (*Result, error) {
	trace := make([]StepTrace, 0, len(p.middlewares))

	var exec func(i int) error
	exec = func(i int) error {
		if i >= len(p.middlewares) {
			return nil
		}
		mw := p.middlewares[i]

		idx := len(trace)
		trace = append(trace, StepTrace{Name: mw.Name(), Start: time.Now()})

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("middleware panicked", "middleware", mw.Name(), "error", r)
					err = errors.New("middleware panic")
				}
			}()
			return mw.Handle(pc, func() error { return exec(i + 1) })
		}()

		trace[idx].End = time.Now()
		trace[idx].Success = err == nil
		if err != nil {
			trace[idx].Err = err.Error()
		}
		return err
	}

	err := exec(0)

	result := &Result{
		Message:  pc.Message,
		Metadata: pc.Metadata,
		Trace:    trace,
	}
	if err != nil {
		p.log.Error("pipeline pass failed", "command", pc.Message.Command, "error", err)
		return result, err
	}
	return result, nil
}
