package store

// Row is one durable message row. Content holds the at-rest (post-transform)
// payload. A row with a non-empty ChunkGroupID is one fragment of an
// oversized logical message and is never complete on its own.
type Row struct {
	ID          int64
	SenderID    string
	ReceiverID  string
	Content     []byte
	ContentType string
	CreatedAt   int64
	Status      string
	IsEdited    bool
	EditedAt    int64

	ChunkGroupID string
	ChunkIndex   int
	ChunkTotal   int
}

// IsFragment reports whether the row belongs to a chunk group.
func (r *Row) IsFragment() bool {
	return r.ChunkGroupID != ""
}

// Revision is one superseded content version, oldest first in history.
type Revision struct {
	Content  []byte
	EditedAt int64
}

// ReadReceipt records that a reader has seen a message.
type ReadReceipt struct {
	MessageID int64
	ReaderID  string
	ReadAt    int64
}
