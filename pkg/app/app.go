// Package app wires the client together: configuration, shared state,
// the message pipeline, the offline subsystem and per-exchange stream
// accumulators behind a small submit/emit surface.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/accumulator"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/backend"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/config"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/offline"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/pipeline"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/statestore"
)

// EmitFunc receives outbound messages after they cleared the pipeline
type EmitFunc func(msg message.Message)

// stream tracks one in-flight streaming exchange
type stream struct {
	acc    *accumulator.Accumulator
	cancel context.CancelFunc
}

// App is the application root. Create with New, then Start, then feed
// inbound messages through Submit.
type App struct {
	cfg    *config.Config
	store  *statestore.Store
	client *backend.Client
	coord  *offline.Coordinator
	pipe   *pipeline.Pipeline
	out    EmitFunc
	log    *logger.Logger

	mu      sync.Mutex
	perf    config.PerformanceConfig
	streams map[string]*stream

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires every subsystem from the loaded configuration. out receives
// outbound messages; pass nil to discard them.
func New(cfg *config.Config, out EmitFunc) *App {
	if out == nil {
		out = func(message.Message) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:     cfg,
		store:   statestore.New(),
		client:  backend.NewClientWithTimeout(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout),
		out:     out,
		log:     logger.WithComponent("app"),
		perf:    cfg.Performance,
		streams: make(map[string]*stream),
		ctx:     ctx,
		cancel:  cancel,
	}

	a.coord = offline.NewCoordinator(offline.Options{
		CacheDir:       cfg.CacheDir,
		CacheCapacity:  cfg.Cache.MaxBytes,
		CacheTTL:       cfg.Cache.BaseTTL,
		QueueCapacity:  cfg.Queue.MaxEntries,
		QueueBatch:     cfg.Queue.BatchSize,
		MaxRetries:     cfg.Retry.MaxRetries,
		RetryBaseDelay: cfg.Retry.BaseDelay,
		ProbeInterval:  cfg.Probe.Interval,
	}, a.client.Health, a.dispatchQueued)

	a.coord.Probe.AddListener(a.onConnectivityChange)

	a.pipe = pipeline.New(
		pipeline.Defaults(a.store, cfg.Pipeline.DedupTTL),
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
	)

	return a
}

// Start loads persisted offline state, starts the probe and sweeper, and
// begins watching the config file for ceiling changes.
func (a *App) Start() error {
	if err := a.coord.Start(a.cfg.Cache.SweepInterval); err != nil {
		return fmt.Errorf("failed to start offline subsystem: %w", err)
	}

	config.Watch(a.applyPerformance)

	a.log.Info("application started", "backend", a.cfg.Backend.URL)
	return nil
}

// Store exposes the shared state store
func (a *App) Store() *statestore.Store {
	return a.store
}

// Status summarizes connectivity and offline resources
type Status struct {
	Online bool
	Queued int
	Cache  offline.CacheStats
}

// Status reports the current connectivity and offline resource usage
func (a *App) Status() Status {
	return Status{
		Online: a.coord.Probe.Online(),
		Queued: a.coord.Queue.Len(),
		Cache:  a.coord.Cache.Stats(),
	}
}

// Submit passes an inbound message through the pipeline and routes the
// surviving command. Validation failures come back as the pipeline's
// error; suppressed duplicates are dropped silently.
func (a *App) Submit(ctx context.Context, msg message.Message) error {
	res, err := a.pipe.Process(ctx, msg, pipeline.Inbound, "presentation", "core")
	if err != nil {
		return err
	}
	if dup, _ := res.Metadata[pipeline.MetaDuplicate].(bool); dup {
		return nil
	}

	switch res.Message.Command {
	case message.CmdGenerate:
		go a.runGenerate(res.Message)
	case message.CmdGenerateStream:
		go a.runStream(res.Message)
	case message.CmdStopStreaming:
		a.cancelStream(res.Message.StringField("stream_id"))
	}
	// select_model and history commands are fully handled by state sync
	return nil
}

// Emit passes an outbound message through the pipeline and hands it to
// the presentation callback
func (a *App) Emit(ctx context.Context, msg message.Message) error {
	res, err := a.pipe.Process(ctx, msg, pipeline.Outbound, "core", "presentation")
	if err != nil {
		return err
	}
	a.out(res.Message)
	return nil
}

// Generate runs the full non-streaming flow for one prompt: inbound
// pipeline pass, cached-or-live execution, and the extracted code.
func (a *App) Generate(ctx context.Context, prompt string) (string, error) {
	msg := message.New(message.CmdGenerate, map[string]any{"prompt": prompt})
	if _, err := a.pipe.Process(ctx, msg, pipeline.Inbound, "cli", "core"); err != nil {
		return "", err
	}

	res, err := a.coord.Execute(ctx, msg.Command, msg.Payload, offline.PriorityHigh,
		func(ctx context.Context) (any, error) {
			return a.client.Generate(ctx, backend.GenerateRequest{Prompt: prompt})
		})
	if err != nil {
		a.emitError(msg.ID, err)
		return "", err
	}
	if res.Queued() {
		a.emitQueued(msg.ID)
		return "", fmt.Errorf("backend unreachable, request queued as %s", res.QueuedID)
	}

	code := extractCode(res.Response)
	_ = a.Emit(a.ctx, message.New(message.CmdUIUpdate, map[string]any{
		"request_id": msg.ID,
		"code":       code,
		"cached":     res.Cached,
	}))
	return code, nil
}

// Close shuts everything down. In-flight streams are cancelled.
func (a *App) Close() {
	a.cancel()

	a.mu.Lock()
	for id, s := range a.streams {
		s.cancel()
		s.acc.Cancel()
		delete(a.streams, id)
	}
	a.mu.Unlock()

	a.pipe.Close()
	a.coord.Close()
	a.log.Info("application stopped")
}

// runGenerate serves one queued-capable generate command and reports the
// outcome as an outbound ui_update or error_notice.
func (a *App) runGenerate(msg message.Message) {
	prompt := msg.StringField("prompt")

	res, err := a.coord.Execute(a.ctx, msg.Command, msg.Payload, offline.PriorityHigh,
		func(ctx context.Context) (any, error) {
			return a.client.Generate(ctx, backend.GenerateRequest{
				Prompt:   prompt,
				Context:  msg.StringField("context"),
				Language: msg.StringField("language"),
			})
		})
	if err != nil {
		a.emitError(msg.ID, err)
		return
	}
	if res.Queued() {
		a.emitQueued(msg.ID)
		return
	}

	_ = a.Emit(a.ctx, message.New(message.CmdUIUpdate, map[string]any{
		"request_id": msg.ID,
		"code":       extractCode(res.Response),
		"cached":     res.Cached,
	}))
}

// runStream drives one streaming exchange end to end
func (a *App) runStream(msg message.Message) {
	prompt := msg.StringField("prompt")
	streamCtx, stop := context.WithCancel(a.ctx)

	events, err := a.client.Stream(streamCtx, backend.GenerateRequest{
		Prompt:   prompt,
		Context:  msg.StringField("context"),
		Language: msg.StringField("language"),
	})
	if err != nil {
		stop()
		a.emitError(msg.ID, err)
		return
	}

	seq := 0
	acc := accumulator.New(a.accumulatorConfig(prompt), accumulator.Callbacks{
		OnFlush: func(text string) {
			seq++
			_ = a.Emit(a.ctx, message.Message{
				Command:   message.CmdStreamingChunk,
				ID:        msg.ID,
				Timestamp: time.Now(),
				Payload: map[string]any{
					"stream_id": msg.ID,
					"content":   text,
					"sequence":  seq,
				},
			})
		},
		OnComplete: func(final string) {
			a.forgetStream(msg.ID)
			_ = a.Emit(a.ctx, message.New(message.CmdStreamingComplete, map[string]any{
				"stream_id": msg.ID,
				"content":   final,
			}))
		},
		OnError: func(err error) {
			a.forgetStream(msg.ID)
			_ = a.Emit(a.ctx, message.New(message.CmdStreamingError, map[string]any{
				"stream_id": msg.ID,
				"error":     err.Error(),
			}))
		},
	})

	a.mu.Lock()
	a.streams[msg.ID] = &stream{acc: acc, cancel: stop}
	a.mu.Unlock()

	_ = a.Emit(a.ctx, message.New(message.CmdStreamingStarted, map[string]any{
		"stream_id": msg.ID,
	}))

	for ev := range events {
		_ = acc.Feed(ev)
	}
	stop()
}

// cancelStream stops an in-flight exchange without a terminal callback
func (a *App) cancelStream(id string) {
	a.mu.Lock()
	s, ok := a.streams[id]
	if ok {
		delete(a.streams, id)
	}
	a.mu.Unlock()

	if !ok {
		a.log.Debug("stop requested for unknown stream", "stream_id", id)
		return
	}
	s.acc.Cancel()
	s.cancel()
}

func (a *App) forgetStream(id string) {
	a.mu.Lock()
	delete(a.streams, id)
	a.mu.Unlock()
}

// dispatchQueued replays one drained queue entry against the backend
func (a *App) dispatchQueued(ctx context.Context, req offline.QueuedRequest) error {
	prompt, _ := req.Payload["prompt"].(string)
	resp, err := a.client.Generate(ctx, backend.GenerateRequest{Prompt: prompt})
	if err != nil {
		return err
	}

	return a.Emit(a.ctx, message.New(message.CmdUIUpdate, map[string]any{
		"request_id": req.ID,
		"code":       resp.GeneratedCode,
		"deferred":   true,
	}))
}

// onConnectivityChange mirrors probe transitions into state and surfaces
// them to the user
func (a *App) onConnectivityChange(online bool) {
	_ = a.store.SetState("api.online", online)

	if online {
		a.emitNotice("back online")
	} else {
		a.emitNotice("working offline, requests will be queued")
	}
}

// applyPerformance installs hot-reloaded streaming ceilings. Running
// exchanges keep the ceilings they started with.
func (a *App) applyPerformance(pc config.PerformanceConfig) {
	a.mu.Lock()
	a.perf = pc
	a.mu.Unlock()

	_ = a.store.SetMultipleStates(map[string]any{
		"performance.maxChunks":     pc.MaxChunks,
		"performance.maxBytes":      pc.MaxBytes,
		"performance.maxDurationMs": int(pc.MaxDuration.Milliseconds()),
	})
	a.log.Info("performance ceilings updated",
		"max_chunks", pc.MaxChunks, "max_bytes", pc.MaxBytes, "max_duration", pc.MaxDuration)
}

func (a *App) accumulatorConfig(prompt string) accumulator.Config {
	a.mu.Lock()
	perf := a.perf
	a.mu.Unlock()

	return accumulator.Config{
		MaxChunks:   perf.MaxChunks,
		MaxBytes:    perf.MaxBytes,
		MaxDuration: perf.MaxDuration,
		Prompt:      prompt,
	}
}

// emitQueued reports a deferred request and releases the loading state
func (a *App) emitQueued(requestID string) {
	a.emitNotice("request queued for later delivery")
	_ = a.Emit(a.ctx, message.New(message.CmdUIUpdate, map[string]any{
		"request_id": requestID,
		"queued":     true,
	}))
}

func (a *App) emitNotice(text string) {
	_ = a.Emit(a.ctx, message.New(message.CmdStatusNotice, map[string]any{"text": text}))
}

func (a *App) emitError(requestID string, err error) {
	a.log.Error("request failed", "request_id", requestID, "error", err)
	_ = a.Emit(a.ctx, message.New(message.CmdErrorNotice, map[string]any{
		"request_id": requestID,
		"error":      err.Error(),
	}))
}

// extractCode pulls the generated code out of a live or cache-restored
// response. Cache restoration decodes into a generic map.
func extractCode(resp any) string {
	switch v := resp.(type) {
	case *backend.GenerateResponse:
		return v.GeneratedCode
	case map[string]any:
		if code, ok := v["generated_code"].(string); ok {
			return code
		}
	}
	return ""
}
