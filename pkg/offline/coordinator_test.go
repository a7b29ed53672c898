package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeTransitionNotifiesListeners(t *testing.T) {
	healthy := true
	var mu sync.Mutex

	probe := NewConnectivityProbe(func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	}, time.Hour)

	var transitions []bool
	probe.AddListener(func(online bool) {
		transitions = append(transitions, online)
	})

	assert.True(t, probe.Check(context.Background()))
	assert.Empty(t, transitions, "no transition when state is unchanged")

	mu.Lock()
	healthy = false
	mu.Unlock()
	assert.False(t, probe.Check(context.Background()))

	mu.Lock()
	healthy = true
	mu.Unlock()
	assert.True(t, probe.Check(context.Background()))

	assert.Equal(t, []bool{false, true}, transitions)
}

func newTestCoordinator(t *testing.T, health HealthCheck, dispatch DispatchFunc) *Coordinator {
	t.Helper()
	c := NewCoordinator(Options{
		CacheDir:       t.TempDir(),
		QueueBatch:     5,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		ProbeInterval:  time.Hour, // transitions driven manually in tests
	}, health, dispatch)
	t.Cleanup(c.Close)
	return c
}

func TestExecuteOnlineCachesResponse(t *testing.T) {
	c := newTestCoordinator(t,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context, req QueuedRequest) error { return nil })

	payload := map[string]any{"type": "completion", "prompt": "hi"}
	calls := 0
	op := func(ctx context.Context) (any, error) {
		calls++
		return "generated", nil
	}

	res, err := c.Execute(context.Background(), "completion", payload, PriorityHigh, op)
	require.NoError(t, err)
	assert.Equal(t, "generated", res.Response)
	assert.False(t, res.Cached)
	assert.False(t, res.Queued())

	// Second call is answered from cache without re-running the operation
	res, err = c.Execute(context.Background(), "completion", payload, PriorityHigh, op)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "generated", res.Response)
	assert.Equal(t, 1, calls)
}

func TestOfflineToOnlineScenario(t *testing.T) {
	dispatched := make(chan QueuedRequest, 10)
	c := newTestCoordinator(t,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context, req QueuedRequest) error {
			dispatched <- req
			return nil
		})

	// Go offline: Execute must queue instead of dispatching
	c.Probe.SetOnline(false)

	payload := map[string]any{"type": "completion", "prompt": "while offline"}
	res, err := c.Execute(context.Background(), "completion", payload, PriorityHigh,
		func(ctx context.Context) (any, error) {
			t.Fatal("operation must not run while offline")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, res.Queued())
	assert.NotEmpty(t, res.QueuedID)
	assert.Equal(t, 1, c.Queue.Len())

	// Connectivity returns: the transition listener drains the queue
	c.Probe.SetOnline(true)

	select {
	case req := <-dispatched:
		assert.Equal(t, res.QueuedID, req.ID)
		assert.Equal(t, "completion", req.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request was not dispatched after reconnect")
	}

	assert.Eventually(t, func() bool { return c.Queue.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestExecuteRetryExhaustionSurfaces(t *testing.T) {
	c := newTestCoordinator(t,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context, req QueuedRequest) error { return nil })

	calls := 0
	_, err := c.Execute(context.Background(), "completion", map[string]any{"p": "x"}, PriorityLow,
		func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("timeout")
		})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestStartRestoresPersistedQueue(t *testing.T) {
	dir := t.TempDir()

	first := NewCoordinator(Options{CacheDir: dir, ProbeInterval: time.Hour},
		func(ctx context.Context) error { return errors.New("offline") },
		func(ctx context.Context, req QueuedRequest) error { return nil })
	first.Probe.SetOnline(false)

	res, err := first.Execute(context.Background(), "completion",
		map[string]any{"prompt": "survive restart"}, PriorityMedium, nil)
	require.NoError(t, err)
	require.True(t, res.Queued())
	first.Close()

	second := NewCoordinator(Options{CacheDir: dir, ProbeInterval: time.Hour},
		func(ctx context.Context) error { return nil },
		func(ctx context.Context, req QueuedRequest) error { return nil })
	defer second.Close()
	require.NoError(t, second.Queue.Load())

	items := second.Queue.Items()
	require.Len(t, items, 1)
	assert.Equal(t, res.QueuedID, items[0].ID)
	assert.Equal(t, "survive restart", items[0].Payload["prompt"])
}

func TestStartDispatchesRestoredQueueWhileOnline(t *testing.T) {
	dir := t.TempDir()

	first := NewCoordinator(Options{CacheDir: dir, ProbeInterval: time.Hour},
		func(ctx context.Context) error { return errors.New("offline") },
		func(ctx context.Context, req QueuedRequest) error { return nil })
	first.Probe.SetOnline(false)

	res, err := first.Execute(context.Background(), "completion",
		map[string]any{"prompt": "deliver after restart"}, PriorityMedium, nil)
	require.NoError(t, err)
	require.True(t, res.Queued())
	first.Close()

	var mu sync.Mutex
	var dispatched []string
	second := NewCoordinator(Options{CacheDir: dir, ProbeInterval: time.Hour},
		func(ctx context.Context) error { return nil },
		func(ctx context.Context, req QueuedRequest) error {
			mu.Lock()
			defer mu.Unlock()
			dispatched = append(dispatched, req.ID)
			return nil
		})
	defer second.Close()

	// Backend healthy from the first check: restored entries must go out
	// without waiting for a connectivity transition.
	require.NoError(t, second.Start(time.Hour))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if second.Queue.Len() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, 0, second.Queue.Len())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 1)
	assert.Equal(t, res.QueuedID, dispatched[0])
}
