// Package queue holds outgoing messages composed while disconnected and
// drains them once connectivity returns, with bounded retry.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/bus"
)

// Entry is one not-yet-acknowledged outgoing message. Entries live only in
// the session that created them and are never persisted.
type Entry struct {
	LocalID     string
	Content     string
	ContentType string
	ReceiverID  string
	CreatedAt   time.Time
	RetryCount  int
}

// Sender delivers one queued entry. Returning (false, nil) is an
// application-level refusal; both refusals and errors count against the
// retry ceiling.
type Sender interface {
	Deliver(ctx context.Context, e Entry) (bool, error)
}

// ConnState answers whether the client is currently online.
type ConnState interface {
	Online() bool
}

// Queue is the client-resident offline send queue. Drains are FIFO,
// single-flight and edge-triggered by "net.up" bus events.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry

	maxRetries int
	sender     Sender
	conn       ConnState
	bus        *bus.Bus
	logger     *zap.Logger

	draining atomic.Bool
	cancel   context.CancelFunc
}

// New creates a queue. maxRetries bounds delivery attempts per entry.
func New(sender Sender, conn ConnState, b *bus.Bus, logger *zap.Logger, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{
		maxRetries: maxRetries,
		sender:     sender,
		conn:       conn,
		bus:        b,
		logger:     logger,
	}
}

// Enqueue appends an entry and returns its locally unique id. Always
// succeeds synchronously.
func (q *Queue) Enqueue(content, contentType, receiverID string) string {
	e := &Entry{
		LocalID:     uuid.New().String(),
		Content:     content,
		ContentType: contentType,
		ReceiverID:  receiverID,
		CreatedAt:   time.Now(),
	}
	q.mu.Lock()
	q.entries = append(q.entries, e)
	n := len(q.entries)
	q.mu.Unlock()

	q.logger.Info("message queued", zap.String("local_id", e.LocalID), zap.Int("depth", n))
	q.publish("queue.enqueued", map[string]string{"local_id": e.LocalID})
	return e.LocalID
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the queued entries in FIFO order, for
// "N messages queued" indicators.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}

// Start subscribes to connectivity-restored events; each "net.up" edge
// triggers a drain. There is no timer while online.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	ch, unsub := q.bus.Subscribe("net.up", 16)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				q.Drain(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the drain trigger.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

// Drain attempts to send every queued entry in original enqueue order. It
// runs only while online and never concurrently with itself: a drain
// triggered while one is in flight is skipped and will run on the next
// connectivity edge or manual call. An entry's send always runs to
// completion before the next entry is considered. Failed entries stay for
// the next pass until they reach the retry ceiling, at which point they are
// dropped.
func (q *Queue) Drain(ctx context.Context) {
	if q.conn != nil && !q.conn.Online() {
		return
	}
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	for {
		if ctx.Err() != nil {
			return
		}
		if q.conn != nil && !q.conn.Online() {
			return
		}
		batch := q.Snapshot()
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			ok, err := q.sender.Deliver(ctx, e)
			if err == nil && ok {
				q.remove(e.LocalID)
				q.publish("queue.sent", map[string]string{"local_id": e.LocalID})
				continue
			}
			if err != nil {
				q.logger.Warn("queued send failed",
					zap.String("local_id", e.LocalID), zap.Error(err))
			}
			if dropped := q.recordFailure(e.LocalID); dropped {
				q.logger.Warn("queued message dropped after retry ceiling",
					zap.String("local_id", e.LocalID), zap.Int("retries", q.maxRetries))
				q.publish("queue.dropped", map[string]string{"local_id": e.LocalID})
			}
		}
	}
}

func (q *Queue) remove(localID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.LocalID == localID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// recordFailure increments the entry's retry count and drops it once the
// count meets the ceiling. Reports whether the entry was dropped.
func (q *Queue) recordFailure(localID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.LocalID != localID {
			continue
		}
		e.RetryCount++
		if e.RetryCount >= q.maxRetries {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
		return false
	}
	return false
}

func (q *Queue) publish(kind string, payload any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
