// Package edit enforces the message edit window and maintains edit history.
package edit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/bus"
	"github.com/courier-chat/courier/internal/codec"
	"github.com/courier-chat/courier/internal/store"
)

// Window is the interval after creation during which a sender may replace
// a message's content.
const Window = 5 * time.Minute

var (
	ErrWindowExpired = errors.New("edit window expired")
	ErrNotAuthorized = errors.New("not authorized to edit")
	ErrEmptyContent  = errors.New("empty content")
	ErrNotFound      = errors.New("message not found")
)

// CanEdit reports whether requesterID may edit a message created at
// createdAt by senderID. The boundary is inclusive: exactly Window after
// creation is still editable. The predicate is pure so the client and the
// persisting authority derive the same answer.
func CanEdit(createdAt time.Time, senderID, requesterID string, now time.Time) bool {
	if requesterID != senderID {
		return false
	}
	return now.Sub(createdAt) <= Window
}

// Controller validates and applies edits against the store.
type Controller struct {
	db     *store.DB
	codec  codec.Codec
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New creates a controller. now may be nil, defaulting to time.Now.
func New(db *store.DB, c codec.Codec, b *bus.Bus, logger *zap.Logger, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{db: db, codec: c, bus: b, logger: logger, now: now}
}

// Edit replaces a message's content after re-validating the window against
// the stored creation timestamp, never a caller-supplied one. The
// superseded content is appended to the edit history. When the codec stores
// dual copies, every sibling row of the same logical event is edited so
// post-decode deduplication stays coherent.
func (c *Controller) Edit(id int64, newContent, requesterID string) error {
	row, err := c.db.GetRow(id)
	if err != nil {
		return fmt.Errorf("load row: %w", err)
	}
	if row == nil || row.IsFragment() {
		// Fragments are not logical messages and cannot be edited on
		// their own.
		return ErrNotFound
	}

	now := c.now()
	if requesterID != row.SenderID {
		return ErrNotAuthorized
	}
	if !CanEdit(time.UnixMilli(row.CreatedAt), row.SenderID, requesterID, now) {
		return ErrWindowExpired
	}
	if strings.TrimSpace(newContent) == "" {
		return ErrEmptyContent
	}
	clean := Sanitize(newContent)
	if strings.TrimSpace(clean) == "" {
		return ErrEmptyContent
	}

	siblings, err := c.db.FindEventRows(row.SenderID, row.CreatedAt, row.ContentType)
	if err != nil {
		return fmt.Errorf("find event rows: %w", err)
	}

	editedAt := now.UnixMilli()
	for _, sib := range siblings {
		if sib.ReceiverID != row.ReceiverID || sib.IsFragment() {
			continue
		}
		// With a dual-copy codec each row must be re-sealed to the key it
		// was originally sealed to. The recipient key is tried first; a
		// copy it does not open is the sender's self copy.
		peer := sib.ReceiverID
		if c.codec.SelfCopy() {
			if _, err := c.codec.Decode(sib.Content, peer); err != nil {
				peer = sib.SenderID
			}
		}
		stored, err := c.codec.Encode([]byte(clean), peer)
		if err != nil {
			return fmt.Errorf("encode edit: %w", err)
		}
		priorEditedAt := sib.EditedAt
		if priorEditedAt == 0 {
			priorEditedAt = sib.CreatedAt
		}
		if err := c.db.ApplyEdit(sib.ID, stored, sib.Content, priorEditedAt, editedAt); err != nil {
			return fmt.Errorf("apply edit: %w", err)
		}
	}

	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      "message.edited",
			Timestamp: now,
			Payload:   map[string]int64{"message_id": id},
		})
	}
	c.logger.Info("message edited", zap.Int64("message_id", id))
	return nil
}
