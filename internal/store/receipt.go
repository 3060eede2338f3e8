package store

// InsertReadReceipt records that readerID has read messageID. Idempotent:
// a second receipt for the same (message, reader) pair is ignored and
// reported as not-inserted.
func (db *DB) InsertReadReceipt(messageID int64, readerID string, at int64) (bool, error) {
	res, err := db.Exec(`
		INSERT OR IGNORE INTO read_receipts (message_id, reader_id, read_at)
		VALUES (?, ?, ?)`, messageID, readerID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReadReceipts returns the receipts recorded for a message.
func (db *DB) ReadReceipts(messageID int64) ([]ReadReceipt, error) {
	rows, err := db.Query(`
		SELECT message_id, reader_id, read_at FROM read_receipts
		WHERE message_id = ? ORDER BY read_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []ReadReceipt
	for rows.Next() {
		var rc ReadReceipt
		if err := rows.Scan(&rc.MessageID, &rc.ReaderID, &rc.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

// CountUnread counts rows addressed to userID that are not yet read,
// optionally restricted to a single sender.
func (db *DB) CountUnread(userID, fromUserID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND status != 'read'`
	args := []any{userID}
	if fromUserID != "" {
		query += ` AND sender_id = ?`
		args = append(args, fromUserID)
	}
	var count int
	err := db.QueryRow(query, args...).Scan(&count)
	return count, err
}
