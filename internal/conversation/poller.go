package conversation

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/bus"
	"github.com/courier-chat/courier/internal/store"
)

// Poller re-loads a watched conversation on a jittered interval and on
// presence cues from the realtime layer. A cue is only a hint that new data
// may be available; the store remains the single source of truth. Each
// refresh records the newest message timestamp as a sync checkpoint so a
// restarted session knows where the last one left off.
type Poller struct {
	assembler *Assembler
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	interval  time.Duration
	jitter    time.Duration

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// Refresh is the payload published after each re-load.
type Refresh struct {
	UserA    string
	UserB    string
	Messages []Message
}

// NewPoller creates a poller.
func NewPoller(a *Assembler, db *store.DB, b *bus.Bus, logger *zap.Logger, interval, jitter time.Duration) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{assembler: a, db: db, bus: b, logger: logger, interval: interval, jitter: jitter}
}

// Watch begins refreshing the conversation between userA and userB until
// Stop or context cancellation. A poller may watch several pairs at once,
// one loop each.
func (p *Poller) Watch(ctx context.Context, userA, userB string) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()
	ch, unsub := p.bus.Subscribe("presence.", 64)

	if prev, err := p.db.GetCheckpoint(checkpointKey(userA, userB)); err == nil && prev != "" {
		p.logger.Info("resuming watched conversation",
			zap.String("user_a", userA), zap.String("user_b", userB),
			zap.String("last_seen", prev))
	}

	go func() {
		defer unsub()
		timer := time.NewTimer(p.next())
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				p.refresh(userA, userB)
				timer.Reset(p.next())
			case <-ch:
				p.refresh(userA, userB)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops every watch loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (p *Poller) refresh(userA, userB string) {
	msgs, err := p.assembler.Load(userA, userB)
	if err != nil {
		p.logger.Error("conversation refresh failed", zap.Error(err),
			zap.String("user_a", userA), zap.String("user_b", userB))
		return
	}
	if len(msgs) > 0 {
		newest := strconv.FormatInt(msgs[len(msgs)-1].CreatedAt, 10)
		if err := p.db.SetCheckpoint(checkpointKey(userA, userB), newest); err != nil {
			p.logger.Warn("checkpoint update failed", zap.Error(err))
		}
	}

	p.bus.Publish(bus.Event{
		Kind:      "conversation.refreshed",
		Timestamp: time.Now(),
		Payload:   Refresh{UserA: userA, UserB: userB, Messages: msgs},
	})
}

// checkpointKey is order-independent so both directions of a pair share one
// checkpoint.
func checkpointKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return "conversation:" + userA + "|" + userB
}

// next returns the interval plus random jitter, spreading refetches so
// concurrent watchers do not align.
func (p *Poller) next() time.Duration {
	if p.jitter <= 0 {
		return p.interval
	}
	return p.interval + time.Duration(rand.Int63n(int64(p.jitter)))
}
