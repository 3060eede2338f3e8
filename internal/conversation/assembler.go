// Package conversation merges stored rows into the externally visible
// ordered message list.
package conversation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/chunk"
	"github.com/courier-chat/courier/internal/codec"
	"github.com/courier-chat/courier/internal/status"
	"github.com/courier-chat/courier/internal/store"
)

// Message is one user-visible unit of conversation content, potentially
// backed by multiple stored fragment rows.
type Message struct {
	ID          int64
	SenderID    string
	ReceiverID  string
	Content     string
	ContentType string
	CreatedAt   int64
	Status      string
	IsEdited    bool
	EditedAt    int64
	EditHistory []Revision
}

// Revision is one superseded content version, oldest first.
type Revision struct {
	Content  string
	EditedAt int64
}

// Assembler turns raw conversation rows into logical messages: decode,
// reassemble chunk groups, deduplicate dual-copy events, annotate.
type Assembler struct {
	db     *store.DB
	codec  codec.Codec
	selfID string
	limit  int
	logger *zap.Logger
}

// NewAssembler creates an assembler. limit bounds how many recent rows a
// load fetches.
func NewAssembler(db *store.DB, c codec.Codec, selfID string, limit int, logger *zap.Logger) *Assembler {
	if limit <= 0 {
		limit = 100
	}
	return &Assembler{db: db, codec: c, selfID: selfID, limit: limit, logger: logger}
}

type dedupKey struct {
	senderID    string
	content     string
	createdAt   int64
	contentType string
}

// Load returns the conversation between userA and userB in ascending
// creation order. Chunk groups are reduced first; deduplication runs after
// decoding, since two independently encrypted copies of the same plaintext
// are ciphertext-distinct and only reveal as duplicates post-decode. Among
// duplicates the copy with the most-advanced delivery status wins, surfaced
// at the first copy's position; on a status tie the first occurrence wins.
func (a *Assembler) Load(userA, userB string) ([]Message, error) {
	rows, err := a.db.QueryConversation(userA, userB, a.limit)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	records := make([]chunk.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, chunk.Record{
			ID:          r.ID,
			SenderID:    r.SenderID,
			ReceiverID:  r.ReceiverID,
			ContentType: r.ContentType,
			CreatedAt:   r.CreatedAt,
			Status:      r.Status,
			IsEdited:    r.IsEdited,
			EditedAt:    r.EditedAt,
			Content:     a.decode(&r),
			Info:        chunkInfo(&r),
		})
	}

	merged := chunk.Reassemble(records)

	seen := make(map[dedupKey]int, len(merged))
	out := make([]Message, 0, len(merged))
	for _, rec := range merged {
		replaceAt := -1
		if rec.Info == nil {
			key := dedupKey{rec.SenderID, rec.Content, rec.CreatedAt, rec.ContentType}
			if at, ok := seen[key]; ok {
				// A failed attempt and its successful resend can share a
				// key when both land within one millisecond. Keep whichever
				// copy's delivery got furthest, at the first copy's position.
				if statusRank(rec.Status) <= statusRank(out[at].Status) {
					continue
				}
				replaceAt = at
			} else {
				seen[key] = len(out)
			}
		}
		msg := Message{
			ID:          rec.ID,
			SenderID:    rec.SenderID,
			ReceiverID:  rec.ReceiverID,
			Content:     rec.Content,
			ContentType: rec.ContentType,
			CreatedAt:   rec.CreatedAt,
			Status:      rec.Status,
			IsEdited:    rec.IsEdited,
			EditedAt:    rec.EditedAt,
		}
		if rec.IsEdited {
			history, err := a.loadHistory(rec.ID, rec.SenderID, rec.ReceiverID)
			if err != nil {
				return nil, err
			}
			msg.EditHistory = history
		}
		if replaceAt >= 0 {
			out[replaceAt] = msg
		} else {
			out = append(out, msg)
		}
	}
	return out, nil
}

// statusRank orders delivery statuses by how far delivery progressed.
// failed ranks below sending so a dead attempt never shadows a live copy of
// the same event.
func statusRank(s string) int {
	switch status.Status(s) {
	case status.Failed:
		return 0
	case status.Sending:
		return 1
	case status.Sent:
		return 2
	case status.Delivered:
		return 3
	case status.Read:
		return 4
	}
	return 1
}

// decode applies the codec in reverse. The peer is the other party of the
// row; self copies were sealed to the local user, so that is tried second.
// A payload that decodes under neither key is surfaced raw rather than
// failing the whole read.
func (a *Assembler) decode(r *store.Row) string {
	primary := r.SenderID
	if r.SenderID == a.selfID {
		primary = r.ReceiverID
	}
	if plain, err := a.codec.Decode(r.Content, primary); err == nil {
		return string(plain)
	}
	if plain, err := a.codec.Decode(r.Content, a.selfID); err == nil {
		return string(plain)
	}
	a.logger.Warn("undecodable payload surfaced raw", zap.Int64("row_id", r.ID))
	return string(r.Content)
}

func (a *Assembler) loadHistory(id int64, senderID, receiverID string) ([]Revision, error) {
	revs, err := a.db.EditHistory(id)
	if err != nil {
		return nil, fmt.Errorf("edit history: %w", err)
	}
	out := make([]Revision, 0, len(revs))
	row := store.Row{SenderID: senderID, ReceiverID: receiverID}
	for _, rev := range revs {
		row.Content = rev.Content
		out = append(out, Revision{
			Content:  a.decode(&row),
			EditedAt: rev.EditedAt,
		})
	}
	return out, nil
}

func chunkInfo(r *store.Row) *chunk.Info {
	if !r.IsFragment() {
		return nil
	}
	return &chunk.Info{
		GroupID: r.ChunkGroupID,
		Index:   r.ChunkIndex,
		Total:   r.ChunkTotal,
	}
}
