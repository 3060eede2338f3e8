// Package connectivity tracks whether the client can reach its transport
// and announces up/down edges on the bus.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/bus"
)

// Prober answers whether the transport is currently reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor holds the current connectivity state. Consumers either ask
// Online() directly or subscribe to "net.up" / "net.down" bus events, which
// fire on state edges only, never on a timer.
type Monitor struct {
	mu     sync.RWMutex
	online bool

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMonitor creates a monitor starting offline.
func NewMonitor(b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{bus: b, logger: logger}
}

// Online returns the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a connectivity observation. Publishes an edge event
// only when the state actually changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	kind := "net.down"
	if online {
		kind = "net.up"
	}
	m.logger.Info("connectivity changed", zap.Bool("online", online))
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
	}
}

// Start begins polling the prober at the given interval, feeding
// observations into SetOnline.
func (m *Monitor) Start(ctx context.Context, p Prober, interval time.Duration) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx, p, interval)
}

// Stop stops the polling loop.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context, p Prober, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Probe once up front so the state is known before the first tick.
	m.SetOnline(p.Probe(ctx))

	for {
		select {
		case <-ticker.C:
			m.SetOnline(p.Probe(ctx))
		case <-ctx.Done():
			return
		}
	}
}
