package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/app"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/config"
	"github.com/Hi-dle-hancom/frontend-sub003/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outbox collects outbound messages from the app under test
type outbox struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (o *outbox) record(msg message.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) byCommand(cmd string) []message.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []message.Message
	for _, m := range o.msgs {
		if m.Command == cmd {
			out = append(out, m)
		}
	}
	return out
}

func (o *outbox) waitFor(t *testing.T, cmd string) message.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := o.byCommand(cmd); len(msgs) > 0 {
			return msgs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s message emitted", cmd)
	return message.Message{}
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Backend: config.BackendConfig{
			URL:     backendURL,
			Timeout: 5 * time.Second,
		},
		Cache: config.CacheConfig{
			MaxBytes:      1 << 20,
			BaseTTL:       time.Hour,
			SweepInterval: time.Hour,
		},
		Queue:       config.QueueConfig{MaxEntries: 10, BatchSize: 5},
		Retry:       config.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
		Pipeline:    config.PipelineConfig{QueueSize: 50, DedupTTL: time.Minute},
		Performance: config.PerformanceConfig{MaxChunks: 100, MaxBytes: 50 * 1024, MaxDuration: 30 * time.Second},
		Probe:       config.ProbeConfig{Interval: time.Hour},
		CacheDir:    t.TempDir(),
	}
}

func generateBackend(t *testing.T, code string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/v1/generate":
			json.NewEncoder(w).Encode(map[string]any{
				"success":        true,
				"generated_code": code,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGenerateOneShot(t *testing.T) {
	server := generateBackend(t, "print('ok')")
	defer server.Close()

	a := app.New(testConfig(t, server.URL), nil)
	require.NoError(t, a.Start())
	defer a.Close()

	code, err := a.Generate(context.Background(), "write a print statement")
	require.NoError(t, err)
	assert.Equal(t, "print('ok')", code)
}

func TestGenerateLeavesStreamingMachineIdle(t *testing.T) {
	server := generateBackend(t, "print('ok')")
	defer server.Close()

	a := app.New(testConfig(t, server.URL), nil)
	require.NoError(t, a.Start())
	defer a.Close()

	_, err := a.Generate(context.Background(), "write a print statement")
	require.NoError(t, err)

	status, _ := a.Store().GetState("streaming.status")
	assert.Equal(t, "idle", status)
	loading, _ := a.Store().GetState("ui.isLoading")
	assert.Equal(t, false, loading)

	// A streaming exchange afterwards must still start cleanly
	msg := message.New(message.CmdGenerateStream, map[string]any{"prompt": "stream"})
	require.NoError(t, a.Submit(context.Background(), msg))
}

func TestGenerateServesRepeatFromCache(t *testing.T) {
	var hits int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		mu.Lock()
		hits++
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"success": true, "generated_code": "cached"})
	}))
	defer server.Close()

	a := app.New(testConfig(t, server.URL), nil)
	require.NoError(t, a.Start())
	defer a.Close()

	for i := 0; i < 2; i++ {
		code, err := a.Generate(context.Background(), "same prompt")
		require.NoError(t, err)
		assert.Equal(t, "cached", code)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits, "second call must hit the cache")
}

func TestSubmitGenerateEmitsUIUpdate(t *testing.T) {
	server := generateBackend(t, "result")
	defer server.Close()

	out := &outbox{}
	a := app.New(testConfig(t, server.URL), out.record)
	require.NoError(t, a.Start())
	defer a.Close()

	msg := message.New(message.CmdGenerate, map[string]any{"prompt": "hi"})
	require.NoError(t, a.Submit(context.Background(), msg))

	update := out.waitFor(t, message.CmdUIUpdate)
	assert.Equal(t, msg.ID, update.StringField("request_id"))
	assert.Equal(t, "result", update.StringField("code"))
}

func TestSubmitRejectsMissingCommand(t *testing.T) {
	server := generateBackend(t, "")
	defer server.Close()

	a := app.New(testConfig(t, server.URL), nil)
	require.NoError(t, a.Start())
	defer a.Close()

	err := a.Submit(context.Background(), message.Message{})
	assert.Error(t, err)
}

func TestSubmitDuplicateHandledOnce(t *testing.T) {
	server := generateBackend(t, "once")
	defer server.Close()

	out := &outbox{}
	a := app.New(testConfig(t, server.URL), out.record)
	require.NoError(t, a.Start())
	defer a.Close()

	msg := message.New(message.CmdGenerate, map[string]any{"prompt": "hi"})
	require.NoError(t, a.Submit(context.Background(), msg))
	require.NoError(t, a.Submit(context.Background(), msg))

	out.waitFor(t, message.CmdUIUpdate)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, out.byCommand(message.CmdUIUpdate), 1)
}

func TestStreamingExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/v1/generate/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for i, content := range []string{"line one\n", "line two\n"} {
				frame, _ := json.Marshal(message.ChunkEvent{
					Type:     message.ChunkTypeToken,
					Content:  content,
					Sequence: i + 1,
				})
				fmt.Fprintf(w, "data: %s\n", frame)
				flusher.Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n")
			flusher.Flush()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	out := &outbox{}
	a := app.New(testConfig(t, server.URL), out.record)
	require.NoError(t, a.Start())
	defer a.Close()

	msg := message.New(message.CmdGenerateStream, map[string]any{"prompt": "stream it"})
	require.NoError(t, a.Submit(context.Background(), msg))

	out.waitFor(t, message.CmdStreamingStarted)
	complete := out.waitFor(t, message.CmdStreamingComplete)
	assert.Equal(t, "line one\nline two", complete.StringField("content"))
	assert.NotEmpty(t, out.byCommand(message.CmdStreamingChunk))

	status, ok := a.Store().GetState("streaming.status")
	require.True(t, ok)
	assert.Equal(t, "idle", status, "machine resets after a completed exchange")

	loading, _ := a.Store().GetState("ui.isLoading")
	assert.Equal(t, false, loading)
}

func TestStopStreamingCancelsExchange(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/v1/generate/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"partial\"}\n")
			flusher.Flush()
			<-release
		}
	}))
	defer server.Close()
	defer close(release)

	out := &outbox{}
	a := app.New(testConfig(t, server.URL), out.record)
	require.NoError(t, a.Start())
	defer a.Close()

	msg := message.New(message.CmdGenerateStream, map[string]any{"prompt": "long task"})
	require.NoError(t, a.Submit(context.Background(), msg))
	out.waitFor(t, message.CmdStreamingStarted)

	stop := message.New(message.CmdStopStreaming, map[string]any{"stream_id": msg.ID})
	require.NoError(t, a.Submit(context.Background(), stop))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, out.byCommand(message.CmdStreamingComplete))
	assert.Empty(t, out.byCommand(message.CmdStreamingError))
}
