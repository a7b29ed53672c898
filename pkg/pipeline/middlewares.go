package pipeline

import (
	"fmt"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/faults"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/statestore"
)

// Middleware priorities; lower executes earlier
const (
	PriorityValidation     = 10
	PriorityLogging        = 20
	PriorityStateSync      = 30
	PriorityPerformance    = 40
	PriorityErrorHandling  = 50
	PriorityTransformation = 60
	PriorityDeduplication  = 70
)

const slowPassThreshold = 5 * time.Second

// MetaDuplicate marks a pass short-circuited by the dedup middleware
const MetaDuplicate = "duplicate"

// MetaRecoveredError records a transient failure absorbed by error handling
const MetaRecoveredError = "recovered_error"

// Defaults returns the standard middleware set wired to the given store
func Defaults(store *statestore.Store, dedupTTL time.Duration) []Middleware {
	return []Middleware{
		NewValidation(),
		NewLogging(),
		NewStateSync(store),
		NewPerformance(),
		NewErrorHandling(),
		NewTransformation(),
		NewDeduplication(dedupTTL),
	}
}

// Validation rejects messages without a command and fills in missing
// id/timestamp so both are populated before any later middleware runs.
type Validation struct{}

func NewValidation() *Validation { return &Validation{} }

func (v *Validation) Name() string  { return "validation" }
func (v *Validation) Priority() int { return PriorityValidation }

func (v *Validation) Handle(pc *Context, next func() error) error {
	if pc.Message.Command == "" {
		return faults.NewValidationError("message has no command")
	}
	if pc.Message.ID == "" {
		pc.Message.ID = message.NewID()
	}
	if pc.Message.Timestamp.IsZero() {
		pc.Message.Timestamp = time.Now()
	}
	return next()
}

// Logging is side-effect only
type Logging struct {
	log *logger.Logger
}

func NewLogging() *Logging {
	return &Logging{log: logger.WithComponent("pipeline")}
}

func (l *Logging) Name() string  { return "logging" }
func (l *Logging) Priority() int { return PriorityLogging }

func (l *Logging) Handle(pc *Context, next func() error) error {
	l.log.Debug("message",
		"command", pc.Message.Command,
		"id", pc.Message.ID,
		"direction", pc.Direction,
		"source", pc.Source,
		"target", pc.Target)
	return next()
}

// StateSync maps commands to state store mutations. Mutations run after the
// inner chain returns so the dedup middleware can suppress re-mutation.
type StateSync struct {
	store *statestore.Store
	log   *logger.Logger
}

func NewStateSync(store *statestore.Store) *StateSync {
	return &StateSync{store: store, log: logger.WithComponent("state_sync")}
}

func (s *StateSync) Name() string  { return "state_sync" }
func (s *StateSync) Priority() int { return PriorityStateSync }

func (s *StateSync) Handle(pc *Context, next func() error) error {
	if err := next(); err != nil {
		return err
	}
	if dup, _ := pc.Metadata[MetaDuplicate].(bool); dup {
		return nil
	}

	s.apply(pc)
	return nil
}

func (s *StateSync) apply(pc *Context) {
	msg := pc.Message

	switch msg.Command {
	case message.CmdSelectModel:
		if m := msg.StringField("model"); m != "" {
			s.set(pc, "ui.selectedModel", m)
		}

	case message.CmdGenerate:
		// Non-streaming requests never touch the streaming machine;
		// ui_update or error_notice clears the flag on completion.
		s.set(pc, "ui.isLoading", true)

	case message.CmdGenerateStream:
		ok := s.store.SetMultipleStates(map[string]any{
			"streaming.status":    statestore.StreamStarting,
			"streaming.sessionID": msg.ID,
			"streaming.startedAt": time.Now(),
			"ui.isLoading":        true,
		})
		if !ok {
			s.log.Warn("generation start rejected by state machine", "id", msg.ID)
		}

	case message.CmdStreamingStarted:
		s.set(pc, "streaming.status", statestore.StreamActive)

	case message.CmdStreamingChunk:
		// First chunk moves the machine from starting to active
		if v, _ := s.store.GetState("streaming.status"); v == statestore.StreamStarting {
			s.set(pc, "streaming.status", statestore.StreamActive)
		}
		count := 0
		if v, ok := s.store.GetState("streaming.chunkCount"); ok {
			if n, ok := v.(int); ok {
				count = n
			}
		}
		buffer := ""
		if v, ok := s.store.GetState("ui.responseBuffer"); ok {
			if b, ok := v.(string); ok {
				buffer = b
			}
		}
		s.store.SetMultipleStates(map[string]any{
			"streaming.chunkCount": count + 1,
			"ui.responseBuffer":    buffer + msg.StringField("content"),
		})

	case message.CmdStreamingComplete:
		s.set(pc, "streaming.status", statestore.StreamFinishing)
		s.set(pc, "streaming.status", statestore.StreamCompleted)
		s.store.SetMultipleStates(map[string]any{
			"streaming.status":     statestore.StreamIdle,
			"streaming.chunkCount": 0,
			"ui.isLoading":         false,
		})

	case message.CmdStopStreaming:
		s.set(pc, "streaming.status", statestore.StreamIdle)
		s.set(pc, "ui.isLoading", false)

	case message.CmdStreamingError:
		s.set(pc, "streaming.status", statestore.StreamError)
		s.set(pc, "api.lastError", msg.StringField("error"))
		s.set(pc, "ui.isLoading", false)

	case message.CmdUIUpdate:
		s.set(pc, "ui.isLoading", false)

	case message.CmdErrorNotice:
		s.set(pc, "api.lastError", msg.StringField("error"))
		s.set(pc, "ui.isLoading", false)

	case message.CmdHistoryAdd:
		if item, ok := msg.Payload["item"]; ok {
			s.store.AppendUIHistory(item)
		}

	case message.CmdHistoryClear:
		s.set(pc, "ui.history", []any{})
	}
}

func (s *StateSync) set(pc *Context, path string, value any) {
	if !s.store.SetState(path, value) {
		s.log.Warn("state mutation rejected", "path", path, "command", pc.Message.Command)
	}
}

// Performance records elapsed time and logs an advisory on slow passes
type Performance struct {
	log *logger.Logger
}

func NewPerformance() *Performance {
	return &Performance{log: logger.WithComponent("pipeline_perf")}
}

func (p *Performance) Name() string  { return "performance" }
func (p *Performance) Priority() int { return PriorityPerformance }

func (p *Performance) Handle(pc *Context, next func() error) error {
	start := time.Now()
	err := next()
	elapsed := time.Since(start)

	pc.Metadata["elapsed_ms"] = elapsed.Milliseconds()
	if elapsed > slowPassThreshold {
		p.log.Warn("slow pipeline pass", "command", pc.Message.Command, "elapsed", elapsed)
	}
	return err
}

// ErrorHandling absorbs transient failures so the pass still resolves;
// everything else propagates with the middleware trace.
type ErrorHandling struct {
	log *logger.Logger
}

func NewErrorHandling() *ErrorHandling {
	return &ErrorHandling{log: logger.WithComponent("pipeline_errors")}
}

func (e *ErrorHandling) Name() string  { return "error_handling" }
func (e *ErrorHandling) Priority() int { return PriorityErrorHandling }

func (e *ErrorHandling) Handle(pc *Context, next func() error) error {
	err := next()
	if err == nil {
		return nil
	}

	if faults.IsTransient(err) {
		e.log.Warn("absorbed transient failure", "command", pc.Message.Command, "error", err)
		pc.Metadata[MetaRecoveredError] = err.Error()
		return nil
	}
	return err
}

// Transformation normalizes payloads per direction: inbound legacy prompt
// fields are unified, outbound chunk payloads get a guaranteed shape.
type Transformation struct{}

func NewTransformation() *Transformation { return &Transformation{} }

func (t *Transformation) Name() string  { return "transformation" }
func (t *Transformation) Priority() int { return PriorityTransformation }

func (t *Transformation) Handle(pc *Context, next func() error) error {
	switch pc.Direction {
	case Inbound:
		t.normalizeInbound(pc)
	case Outbound:
		t.normalizeOutbound(pc)
	}
	return next()
}

func (t *Transformation) normalizeInbound(pc *Context) {
	payload := pc.Message.Payload
	if payload == nil {
		return
	}
	// Legacy clients send "text" or "code" where "prompt" is expected
	if _, ok := payload["prompt"]; !ok {
		for _, legacy := range []string{"text", "code"} {
			if v, ok := payload[legacy].(string); ok && v != "" {
				payload["prompt"] = v
				delete(payload, legacy)
				break
			}
		}
	}
}

func (t *Transformation) normalizeOutbound(pc *Context) {
	if pc.Message.Command != message.CmdStreamingChunk {
		return
	}
	if pc.Message.Payload == nil {
		pc.Message.Payload = make(map[string]any)
	}
	payload := pc.Message.Payload

	if seq, ok := pc.Message.IntField("sequence"); ok {
		payload["sequence"] = seq
	} else {
		payload["sequence"] = 0
	}
	if _, ok := payload["is_complete"].(bool); !ok {
		payload["is_complete"] = false
	}
	if _, ok := payload["content"].(string); !ok {
		payload["content"] = ""
	}
}

// Deduplication short-circuits repeats of the same command+id (+chunk
// sequence) seen within the TTL window.
type Deduplication struct {
	ttl  time.Duration
	seen map[string]time.Time
	log  *logger.Logger
}

func NewDeduplication(ttl time.Duration) *Deduplication {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Deduplication{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		log:  logger.WithComponent("pipeline_dedup"),
	}
}

func (d *Deduplication) Name() string  { return "deduplication" }
func (d *Deduplication) Priority() int { return PriorityDeduplication }

func (d *Deduplication) Handle(pc *Context, next func() error) error {
	key := pc.Message.Command + ":" + pc.Message.ID
	if pc.Message.IsStreamingCommand() {
		if seq, ok := pc.Message.IntField("sequence"); ok {
			key = fmt.Sprintf("%s:%d", key, seq)
		}
	}

	now := time.Now()
	d.sweep(now)

	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		d.log.Debug("duplicate message skipped", "key", key)
		pc.Metadata[MetaDuplicate] = true
		return nil
	}

	d.seen[key] = now
	return next()
}

// sweep drops expired keys; the pipeline serializes calls so no lock needed
func (d *Deduplication) sweep(now time.Time) {
	for key, seenAt := range d.seen {
		if now.Sub(seenAt) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
