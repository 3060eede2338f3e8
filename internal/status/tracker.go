// Package status maintains the per-message delivery status state machine.
package status

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/bus"
	"github.com/courier-chat/courier/internal/store"
)

// Status is a message delivery status.
type Status string

const (
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// validTransitions defines allowed status transitions. Read is reachable
// from every state: batch mark-as-read short-circuits the intermediate
// steps. Failed is terminal for the delivery attempt; a resend mints a new
// message id instead of reviving a failed row.
var validTransitions = map[Status][]Status{
	Sending:   {Sent, Failed, Read},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
	Failed:    {Read},
}

// ErrUnknownMessage is returned when the message id does not resolve.
var ErrUnknownMessage = errors.New("unknown message")

// Tracker applies status transitions against the store. The guards here are
// advisory, applied at the application layer; the store itself is
// last-writer-wins.
type Tracker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a tracker.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, bus: b, logger: logger}
}

// Change is the payload for status change events.
type Change struct {
	MessageID int64
	From      Status
	To        Status
}

// MarkStatus applies a single-row transition. Re-applying the current
// status is a no-op success; a disallowed transition is an error.
func (t *Tracker) MarkStatus(id int64, to Status) error {
	row, err := t.db.GetRow(id)
	if err != nil {
		return fmt.Errorf("load row: %w", err)
	}
	if row == nil {
		return ErrUnknownMessage
	}
	from := Status(row.Status)
	if from == to {
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	if err := t.db.UpdateStatus(id, string(to)); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	t.publish(Change{MessageID: id, From: from, To: to})
	return nil
}

// BatchMarkDelivered moves the listed rows from sent to delivered. Rows
// already delivered or read are left untouched; a more-advanced status is
// never regressed. Returns the number of rows changed.
func (t *Tracker) BatchMarkDelivered(ids []int64) (int64, error) {
	n, err := t.db.UpdateStatusBatch(ids, string(Sent), string(Delivered))
	if err != nil {
		return 0, fmt.Errorf("batch deliver: %w", err)
	}
	if n > 0 && t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      "message.batch_delivered",
			Timestamp: time.Now(),
			Payload:   ids,
		})
	}
	return n, nil
}

// MarkRead records a read receipt keyed by (message, reader) and advances
// the row to read from whatever state it is in. A second read by the same
// reader is a no-op, not an error.
func (t *Tracker) MarkRead(messageID int64, readerID string) error {
	row, err := t.db.GetRow(messageID)
	if err != nil {
		return fmt.Errorf("load row: %w", err)
	}
	if row == nil {
		return ErrUnknownMessage
	}

	inserted, err := t.db.InsertReadReceipt(messageID, readerID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	if !inserted {
		return nil
	}

	from := Status(row.Status)
	if from != Read {
		if err := t.db.UpdateStatus(messageID, string(Read)); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		t.publish(Change{MessageID: messageID, From: from, To: Read})
	}
	return nil
}

// Receipts returns who has read the given message and when, oldest first.
func (t *Tracker) Receipts(messageID int64) ([]store.ReadReceipt, error) {
	return t.db.ReadReceipts(messageID)
}

// UnreadCount counts rows addressed to userID that are not yet read,
// optionally filtered by sender.
func (t *Tracker) UnreadCount(userID, fromUserID string) (int, error) {
	return t.db.CountUnread(userID, fromUserID)
}

func (t *Tracker) publish(c Change) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{
		Kind:      "message.status_changed",
		Timestamp: time.Now(),
		Payload:   c,
	})
}
