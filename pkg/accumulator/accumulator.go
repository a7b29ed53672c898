// Package accumulator consumes backend chunk events for one streaming
// exchange, bundles them for the presentation layer, and emits exactly one
// finalized response or error per exchange.
package accumulator

import (
	"strings"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/faults"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
)

// Completion sentinels the backend may embed in streamed content. The
// buffer is truncated at the first marker; trailing content is discarded.
var completionSentinels = []string{
	"[DONE]",
	"<|endoftext|>",
	"[END_OF_RESPONSE]",
}

// TruncationNotice is appended when a resource ceiling forces completion
const TruncationNotice = "\n... [response truncated]"

const (
	defaultFlushSize     = 50
	defaultFlushInterval = 100 * time.Millisecond
)

// Config bounds one streaming exchange. Ceilings come from the
// performance sub-tree, snapshotted at construction.
type Config struct {
	MaxChunks     int
	MaxBytes      int
	MaxDuration   time.Duration
	FlushSize     int
	FlushInterval time.Duration
	Prompt        string // request prompt, drives the early-exit policy
	Policy        Policy
}

// Callbacks receive bundled updates and the single terminal result
type Callbacks struct {
	OnFlush    func(text string)
	OnComplete func(final string)
	OnError    func(err error)
}

type phase int

const (
	phaseActive phase = iota
	phaseDone
	phaseCancelled
)

// Accumulator builds the response for one exchange. It is driven from the
// pipeline's single worker and is not safe for concurrent use.
type Accumulator struct {
	cfg Config
	cb  Callbacks

	buffer     strings.Builder
	pending    strings.Builder
	chunkCount int
	startTime  time.Time
	lastChunk  time.Time
	lastFlush  time.Time
	phase      phase
	simple     bool
	log        *logger.Logger
}

// New creates an accumulator for one exchange
func New(cfg Config, cb Callbacks) *Accumulator {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = defaultFlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	cfg.Policy = cfg.Policy.withDefaults()

	now := time.Now()
	return &Accumulator{
		cfg:       cfg,
		cb:        cb,
		startTime: now,
		lastFlush: now,
		simple:    cfg.Policy.classifySimple(cfg.Prompt),
		log:       logger.WithComponent("stream_accumulator"),
	}
}

// Feed consumes one chunk event. Events after the terminal callback are
// ignored. The returned error mirrors what OnError received.
func (a *Accumulator) Feed(ev message.ChunkEvent) error {
	if a.phase != phaseActive {
		return nil
	}

	if ev.Type == message.ChunkTypeError {
		err := faults.Permanent(streamError(ev.Content))
		a.fail(err)
		return err
	}

	a.chunkCount++
	a.lastChunk = time.Now()

	if ev.Content != "" {
		a.buffer.WriteString(ev.Content)
		a.pending.WriteString(ev.Content)
	}

	// Explicit backend completion marker embedded in content
	if text, found := cutAtSentinel(a.buffer.String()); found {
		a.complete(text)
		return nil
	}

	if ev.IsComplete || ev.Type == message.ChunkTypeComplete {
		a.complete(a.buffer.String())
		return nil
	}

	if reason := a.ceilingExceeded(); reason != "" {
		a.log.Info("resource ceiling reached, forcing completion",
			"reason", reason, "chunks", a.chunkCount, "bytes", a.buffer.Len())
		a.complete(a.buffer.String() + TruncationNotice)
		return nil
	}

	if a.simple && a.cfg.Policy.bufferComplete(a.buffer.String()) {
		a.log.Debug("early exit on simple request", "chunks", a.chunkCount)
		a.complete(a.buffer.String())
		return nil
	}

	a.maybeFlush(strings.Contains(ev.Content, "\n"))
	return nil
}

// Cancel stops the exchange: nothing further is forwarded and no terminal
// callback fires. Safe to call at any point.
func (a *Accumulator) Cancel() {
	if a.phase != phaseActive {
		return
	}
	a.phase = phaseCancelled
	a.log.Debug("exchange cancelled", "chunks", a.chunkCount)
}

// Stats reports progress for the current exchange
func (a *Accumulator) Stats() (chunks int, bytes int, elapsed time.Duration) {
	return a.chunkCount, a.buffer.Len(), time.Since(a.startTime)
}

// maybeFlush releases the pending buffer when it is big enough, old
// enough, or a newline arrived.
func (a *Accumulator) maybeFlush(sawNewline bool) {
	if a.pending.Len() == 0 {
		return
	}
	if a.pending.Len() < a.cfg.FlushSize &&
		time.Since(a.lastFlush) < a.cfg.FlushInterval &&
		!sawNewline {
		return
	}

	if a.cb.OnFlush != nil {
		a.cb.OnFlush(a.pending.String())
	}
	a.pending.Reset()
	a.lastFlush = time.Now()
}

// ceilingExceeded names the first exceeded ceiling, or ""
func (a *Accumulator) ceilingExceeded() string {
	if a.cfg.MaxChunks > 0 && a.chunkCount >= a.cfg.MaxChunks {
		return "max_chunks"
	}
	if a.cfg.MaxBytes > 0 && a.buffer.Len() >= a.cfg.MaxBytes {
		return "max_bytes"
	}
	if a.cfg.MaxDuration > 0 && time.Since(a.startTime) >= a.cfg.MaxDuration {
		return "max_duration"
	}
	return ""
}

// complete flushes the remainder, normalizes, and fires OnComplete once
func (a *Accumulator) complete(text string) {
	a.phase = phaseDone

	if a.pending.Len() > 0 && a.cb.OnFlush != nil {
		a.cb.OnFlush(a.pending.String())
	}
	a.pending.Reset()

	final := Normalize(text)
	if a.cb.OnComplete != nil {
		a.cb.OnComplete(final)
	}
}

func (a *Accumulator) fail(err error) {
	a.phase = phaseDone
	a.pending.Reset()
	if a.cb.OnError != nil {
		a.cb.OnError(err)
	}
}

// cutAtSentinel truncates text at the first completion marker
func cutAtSentinel(text string) (string, bool) {
	cut := -1
	for _, sentinel := range completionSentinels {
		if idx := strings.Index(text, sentinel); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut < 0 {
		return text, false
	}
	return text[:cut], true
}

type streamError string

func (e streamError) Error() string {
	return "stream failed: " + string(e)
}
