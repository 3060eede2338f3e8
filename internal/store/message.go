package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const rowColumns = `id, sender_id, receiver_id, content, content_type, created_at, status,
	is_edited, edited_at, chunk_group_id, chunk_index, chunk_total`

// InsertRows persists rows in one transaction and fills in the
// store-generated ids. Either all rows land or none do.
func (db *DB) InsertRows(rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (sender_id, receiver_id, content, content_type, created_at, status,
			is_edited, edited_at, chunk_group_id, chunk_index, chunk_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		res, err := stmt.Exec(r.SenderID, r.ReceiverID, r.Content, r.ContentType, r.CreatedAt, r.Status,
			r.IsEdited, nullableInt(r.EditedAt), nullableStr(r.ChunkGroupID), chunkField(r, r.ChunkIndex), chunkField(r, r.ChunkTotal))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		r.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
	}
	return tx.Commit()
}

// QueryConversation returns the most recent rows exchanged between userA and
// userB, in ascending creation order. The pairing is order-independent.
func (db *DB) QueryConversation(userA, userB string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+rowColumns+` FROM (
			SELECT `+rowColumns+`
			FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at ASC, id ASC`,
		userA, userB, userB, userA, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// GetRow returns a single row by id, or nil when it does not exist.
func (db *DB) GetRow(id int64) (*Row, error) {
	r, err := scanRow(db.QueryRow(`SELECT `+rowColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateStatus sets a row's delivery status.
func (db *DB) UpdateStatus(id int64, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateStatusBatch moves every listed row currently in status from to status
// to, leaving rows in any other status untouched. Returns the number of rows
// changed.
func (db *DB) UpdateStatusBatch(ids []int64, from, to string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, to, from)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE status = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ApplyEdit replaces a row's content and appends the superseded version to
// its edit history in one transaction.
func (db *DB) ApplyEdit(id int64, newContent, priorContent []byte, priorEditedAt, editedAt int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO edit_history (message_id, prior_content, edited_at)
		VALUES (?, ?, ?)`, id, priorContent, priorEditedAt); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ?`,
		newContent, editedAt, id); err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return tx.Commit()
}

// EditHistory returns a row's superseded content versions, oldest first.
func (db *DB) EditHistory(id int64) ([]Revision, error) {
	rows, err := db.Query(`
		SELECT prior_content, edited_at FROM edit_history
		WHERE message_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var revs []Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.Content, &rev.EditedAt); err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

// FindEventRows returns every row stored for one logical send event: same
// sender, origin timestamp and content type. With dual-copy codecs a single
// event is stored more than once, ciphertext-distinct.
func (db *DB) FindEventRows(senderID string, createdAt int64, contentType string) ([]Row, error) {
	rows, err := db.Query(`
		SELECT `+rowColumns+` FROM messages
		WHERE sender_id = ? AND created_at = ? AND content_type = ?
		ORDER BY id ASC`, senderID, createdAt, contentType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (*Row, error) {
	var r Row
	var editedAt sql.NullInt64
	var groupID sql.NullString
	var chunkIndex, chunkTotal sql.NullInt64
	err := s.Scan(&r.ID, &r.SenderID, &r.ReceiverID, &r.Content, &r.ContentType, &r.CreatedAt, &r.Status,
		&r.IsEdited, &editedAt, &groupID, &chunkIndex, &chunkTotal)
	if err != nil {
		return nil, err
	}
	r.EditedAt = editedAt.Int64
	r.ChunkGroupID = groupID.String
	r.ChunkIndex = int(chunkIndex.Int64)
	r.ChunkTotal = int(chunkTotal.Int64)
	return &r, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// chunkField nulls chunk columns on non-fragment rows so a zero index is
// not mistaken for fragment metadata.
func chunkField(r *Row, v int) any {
	if !r.IsFragment() {
		return nil
	}
	return v
}
