// Package messenger is the send side of the pipeline: validation, rate
// limiting, chunking, encoding, persistence and handoff to the transport,
// with fallback to the offline queue.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/courier-chat/courier/internal/bus"
	"github.com/courier-chat/courier/internal/chunk"
	"github.com/courier-chat/courier/internal/codec"
	"github.com/courier-chat/courier/internal/config"
	"github.com/courier-chat/courier/internal/conversation"
	"github.com/courier-chat/courier/internal/edit"
	"github.com/courier-chat/courier/internal/queue"
	"github.com/courier-chat/courier/internal/status"
	"github.com/courier-chat/courier/internal/store"
)

var (
	ErrEmptyContent    = errors.New("empty content")
	ErrContentTooLarge = errors.New("content exceeds maximum length")
	ErrNoReceiver      = errors.New("receiver required")
	ErrRateLimited     = errors.New("send rate exceeded")
)

// Packet is one wire unit handed to the transport. Oversized messages cross
// the wire as multiple packets sharing a chunk group.
type Packet struct {
	SenderID     string
	ReceiverID   string
	Payload      []byte
	ContentType  string
	CreatedAt    int64
	ChunkGroupID string
	ChunkIndex   int
	ChunkTotal   int
}

// Transport carries packets to the peer. Implementations must treat a
// returned error as "not delivered"; the caller owns retry.
type Transport interface {
	Publish(ctx context.Context, p Packet) error
}

// State classifies the outcome of a send.
type State string

const (
	StateSent   State = "sent"
	StateQueued State = "queued"
)

// Outcome reports what happened to a send. Sent outcomes carry the stored
// row ids; queued outcomes carry the queue-local id instead.
type Outcome struct {
	State      State
	MessageIDs []int64
	LocalID    string
}

// Messenger coordinates outgoing messages end to end. It owns the offline
// queue and acts as its delivery callback.
type Messenger struct {
	selfID     string
	maxContent int
	threshold  int
	chunkSize  int
	db         *store.DB
	codec      codec.Codec
	transport  Transport
	tracker    *status.Tracker
	editor     *edit.Controller
	assembler  *conversation.Assembler
	conn       queue.ConnState
	queue      *queue.Queue
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a messenger and its offline queue.
func New(cfg *config.Config, db *store.DB, c codec.Codec, tr Transport, conn queue.ConnState,
	tracker *status.Tracker, editor *edit.Controller, asm *conversation.Assembler,
	b *bus.Bus, logger *zap.Logger) *Messenger {

	m := &Messenger{
		selfID:     cfg.Identity.UserID,
		maxContent: cfg.Chunking.MaxContentLength,
		threshold:  cfg.Chunking.Threshold,
		chunkSize:  cfg.Chunking.ChunkSize,
		db:         db,
		codec:      c,
		transport:  tr,
		tracker:    tracker,
		editor:     editor,
		assembler:  asm,
		conn:       conn,
		limiter:    rate.NewLimiter(rate.Limit(cfg.Rate.MessagesPerSecond), cfg.Rate.Burst),
		logger:     logger,
	}
	m.queue = queue.New(m, conn, b, logger, cfg.Queue.MaxRetries)
	return m
}

// Start begins queue draining on connectivity edges.
func (m *Messenger) Start(ctx context.Context) { m.queue.Start(ctx) }

// Stop stops the queue trigger.
func (m *Messenger) Stop() { m.queue.Stop() }

// Send validates and dispatches one outgoing message. While online the
// message is chunked, encoded, persisted and published immediately; while
// offline, or when the transport refuses, it is queued and the outcome says
// so. Validation failures are errors, never queued.
func (m *Messenger) Send(ctx context.Context, receiverID, content, contentType string) (Outcome, error) {
	if strings.TrimSpace(receiverID) == "" {
		return Outcome{}, ErrNoReceiver
	}
	if strings.TrimSpace(content) == "" {
		return Outcome{}, ErrEmptyContent
	}
	if n := len([]rune(content)); n > m.maxContent {
		return Outcome{}, fmt.Errorf("%w: %d > %d", ErrContentTooLarge, n, m.maxContent)
	}
	if contentType == "" {
		contentType = "text"
	}
	if !m.limiter.Allow() {
		return Outcome{}, ErrRateLimited
	}

	if m.conn != nil && !m.conn.Online() {
		localID := m.queue.Enqueue(content, contentType, receiverID)
		return Outcome{State: StateQueued, LocalID: localID}, nil
	}

	ids, err := m.deliver(ctx, receiverID, content, contentType, time.Now())
	if err != nil {
		m.logger.Warn("immediate send failed, queueing", zap.Error(err),
			zap.String("receiver_id", receiverID))
		localID := m.queue.Enqueue(content, contentType, receiverID)
		return Outcome{State: StateQueued, LocalID: localID}, nil
	}
	return Outcome{State: StateSent, MessageIDs: ids}, nil
}

// Deliver sends one queued entry. It satisfies the queue's delivery
// callback; a retried entry keeps its original compose timestamp so
// ordering survives the offline gap.
func (m *Messenger) Deliver(ctx context.Context, e queue.Entry) (bool, error) {
	_, err := m.deliver(ctx, e.ReceiverID, e.Content, e.ContentType, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

// deliver persists the message optimistically in sending state, publishes
// each recipient-copy packet, then advances the rows to sent. On transport
// failure every row of the attempt is marked failed; a retry mints fresh
// rows rather than reviving these.
func (m *Messenger) deliver(ctx context.Context, receiverID, content, contentType string, composedAt time.Time) ([]int64, error) {
	fragments := chunk.Split(content, m.threshold, m.chunkSize)
	createdAt := composedAt.UnixMilli()

	rows := make([]*store.Row, 0, len(fragments)*2)
	for _, f := range fragments {
		r, err := m.buildRow(f, receiverID, receiverID, contentType, createdAt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	// The self copy of each fragment is sealed to the local user and stored
	// after every recipient copy.
	if m.codec.SelfCopy() {
		for _, f := range fragments {
			r, err := m.buildRow(f, receiverID, m.selfID, contentType, createdAt)
			if err != nil {
				return nil, err
			}
			rows = append(rows, r)
		}
	}

	if err := m.db.InsertRows(rows); err != nil {
		return nil, fmt.Errorf("persist rows: %w", err)
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	for i := range fragments {
		r := rows[i]
		pkt := Packet{
			SenderID:     r.SenderID,
			ReceiverID:   r.ReceiverID,
			Payload:      r.Content,
			ContentType:  r.ContentType,
			CreatedAt:    r.CreatedAt,
			ChunkGroupID: r.ChunkGroupID,
			ChunkIndex:   r.ChunkIndex,
			ChunkTotal:   r.ChunkTotal,
		}
		if err := m.transport.Publish(ctx, pkt); err != nil {
			m.markAll(ids, status.Failed)
			return nil, fmt.Errorf("publish packet %d/%d: %w", i+1, len(fragments), err)
		}
	}

	m.markAll(ids, status.Sent)
	m.logger.Info("message sent",
		zap.String("receiver_id", receiverID),
		zap.Int("fragments", len(fragments)),
		zap.Int64s("message_ids", ids))
	return ids, nil
}

func (m *Messenger) buildRow(f chunk.Fragment, receiverID, sealTo, contentType string, createdAt int64) (*store.Row, error) {
	stored, err := m.codec.Encode([]byte(f.Content), sealTo)
	if err != nil {
		return nil, fmt.Errorf("encode for %s: %w", sealTo, err)
	}
	r := &store.Row{
		SenderID:    m.selfID,
		ReceiverID:  receiverID,
		Content:     stored,
		ContentType: contentType,
		CreatedAt:   createdAt,
		Status:      string(status.Sending),
	}
	if f.Info != nil {
		r.ChunkGroupID = f.Info.GroupID
		r.ChunkIndex = f.Info.Index
		r.ChunkTotal = f.Info.Total
	}
	return r, nil
}

func (m *Messenger) markAll(ids []int64, to status.Status) {
	for _, id := range ids {
		if err := m.tracker.MarkStatus(id, to); err != nil {
			m.logger.Error("status transition failed",
				zap.Int64("message_id", id), zap.String("to", string(to)), zap.Error(err))
		}
	}
}

// LoadConversation returns the assembled conversation with peerID.
func (m *Messenger) LoadConversation(peerID string) ([]conversation.Message, error) {
	return m.assembler.Load(m.selfID, peerID)
}

// EditMessage replaces a sent message's content on behalf of the local user.
func (m *Messenger) EditMessage(id int64, newContent string) error {
	return m.editor.Edit(id, newContent, m.selfID)
}

// MarkRead records that the local user read the given message.
func (m *Messenger) MarkRead(id int64) error {
	return m.tracker.MarkRead(id, m.selfID)
}

// AckDelivered applies a delivery acknowledgement for the listed rows.
func (m *Messenger) AckDelivered(ids []int64) (int64, error) {
	return m.tracker.BatchMarkDelivered(ids)
}

// UnreadCount counts messages addressed to the local user not yet read,
// optionally from one sender.
func (m *Messenger) UnreadCount(fromUserID string) (int, error) {
	return m.tracker.UnreadCount(m.selfID, fromUserID)
}

// QueueDepth returns how many messages are waiting for connectivity.
func (m *Messenger) QueueDepth() int { return m.queue.Len() }

// QueuedMessages returns a snapshot of the offline queue in send order.
func (m *Messenger) QueuedMessages() []queue.Entry { return m.queue.Snapshot() }

// Drain forces an immediate drain attempt, for interactive retry.
func (m *Messenger) Drain(ctx context.Context) { m.queue.Drain(ctx) }
