package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is the envelope every command passes through the pipeline in.
// ID and Timestamp are filled by the validation middleware when the
// producer left them empty.
type Message struct {
	Command   string         `json:"command"`
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Inbound commands (presentation surface -> client core)
const (
	CmdGenerate       = "generate"
	CmdGenerateStream = "generate_stream"
	CmdSelectModel    = "select_model"
	CmdStopStreaming  = "stop_streaming"
	CmdHistoryAdd     = "history_add"
	CmdHistoryClear   = "history_clear"
)

// Outbound commands (client core -> presentation surface)
const (
	CmdStreamingStarted  = "streaming_started"
	CmdStreamingChunk    = "streaming_chunk"
	CmdStreamingComplete = "streaming_complete"
	CmdStreamingError    = "streaming_error"
	CmdStatusNotice      = "status_notice"
	CmdErrorNotice       = "error_notice"
	CmdUIUpdate          = "ui_update"
)

// NewID returns a fresh message identifier
func NewID() string {
	return uuid.NewString()
}

// New creates a message with a generated id and current timestamp
func New(command string, payload map[string]any) Message {
	return Message{
		Command:   command,
		ID:        NewID(),
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// ChunkEvent is one streamed frame from the code-generation backend
type ChunkEvent struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	Sequence   int    `json:"sequence"`
	IsComplete bool   `json:"is_complete"`
}

// Chunk event types emitted by the backend
const (
	ChunkTypeToken    = "token"
	ChunkTypeCode     = "code"
	ChunkTypeComplete = "complete"
	ChunkTypeError    = "error"
)

// StringField returns a string payload field, or "" when absent or mistyped
func (m Message) StringField(key string) string {
	if m.Payload == nil {
		return ""
	}
	if v, ok := m.Payload[key].(string); ok {
		return v
	}
	return ""
}

// IntField returns an int payload field, tolerating float64 from JSON decoding
func (m Message) IntField(key string) (int, bool) {
	if m.Payload == nil {
		return 0, false
	}
	switch v := m.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// IsStreamingCommand reports whether the command carries chunk sequencing
func (m Message) IsStreamingCommand() bool {
	return m.Command == CmdStreamingChunk
}
