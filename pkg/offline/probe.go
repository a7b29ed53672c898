package offline

import (
	"context"
	"sync"
	"time"

	"github.com/Hi-dle-hancom/frontend-sub003/pkg/logger"
)

const defaultProbeInterval = 30 * time.Second

// HealthCheck is the lightweight connectivity check the probe runs
type HealthCheck func(ctx context.Context) error

// ProbeListener is notified on every connectivity transition
type ProbeListener func(online bool)

// ConnectivityProbe periodically checks the backend and maintains the
// online flag. Every transition notifies registered listeners.
type ConnectivityProbe struct {
	check    HealthCheck
	interval time.Duration

	mu        sync.RWMutex
	online    bool
	listeners []ProbeListener
	log       *logger.Logger
}

// NewConnectivityProbe creates a probe; the client starts optimistic
// (online) until the first check says otherwise.
func NewConnectivityProbe(check HealthCheck, interval time.Duration) *ConnectivityProbe {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &ConnectivityProbe{
		check:    check,
		interval: interval,
		online:   true,
		log:      logger.WithComponent("connectivity_probe"),
	}
}

// Online reports the last observed connectivity state
func (p *ConnectivityProbe) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// AddListener registers a transition listener
func (p *ConnectivityProbe) AddListener(fn ProbeListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Start runs the probe loop until ctx is done. The first check runs
// immediately rather than waiting one interval.
func (p *ConnectivityProbe) Start(ctx context.Context) {
	go func() {
		p.Check(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Check(ctx)
			}
		}
	}()
}

// Check runs one connectivity check now and applies the result
func (p *ConnectivityProbe) Check(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := p.check(checkCtx)
	online := err == nil
	p.SetOnline(online)
	return online
}

// SetOnline applies a connectivity observation, notifying listeners on a
// transition. Exposed so dispatch failures can flip the flag early.
func (p *ConnectivityProbe) SetOnline(online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	listeners := make([]ProbeListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.Unlock()

	if online {
		p.log.Info("connectivity restored")
	} else {
		p.log.Warn("connectivity lost")
	}
	for _, fn := range listeners {
		fn(online)
	}
}
