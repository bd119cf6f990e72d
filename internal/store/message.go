package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageCols = `id, client_id, chat_id, sender_id, text, msg_type, reply_to, status, edited, pinned, deleted, created_at, updated_at`

// UpsertMessage inserts or replaces a message row (idempotent on id). Field
// merging happens before this call; the row passed in is authoritative.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (`+messageCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			text = excluded.text,
			msg_type = excluded.msg_type,
			reply_to = excluded.reply_to,
			status = excluded.status,
			edited = excluded.edited,
			pinned = excluded.pinned,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		m.ID, m.ClientID, m.ChatID, m.SenderID, m.Text, m.Type, m.ReplyTo,
		m.Status, m.Edited, m.Pinned, m.Deleted, m.CreatedAt, m.UpdatedAt)
	return err
}

// GetMessage returns a message by server id, or nil if not found.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessageByClientID returns a message by its client-generated id, or nil.
func (db *DB) GetMessageByClientID(clientID string) (*Message, error) {
	if clientID == "" {
		return nil, nil
	}
	m, err := scanMessage(db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE client_id = ?`, clientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns up to limit messages for a chat with created_at before
// beforeTs, ordered ascending. beforeTs <= 0 means "newest window".
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE chat_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Window is collected newest-first; render order is ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// QueuedMessages returns all queued messages across chats in creation order.
// This is the flusher's work list.
func (db *DB) QueuedMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE status = ?
		ORDER BY created_at ASC`, StatusQueued)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// RequeueSending reverts every row stranded in sending back to queued and
// returns how many were affected. Runs at startup, before the flusher: a
// crash between the sending flip and the ack leaves rows the drain list
// would otherwise never pick up again.
func (db *DB) RequeueSending() (int64, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE status = ?`,
		StatusQueued, StatusSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateMessageStatus sets a message's status. Callers enforce the transition
// rules; this is a raw write. updated_at is left alone: receipt events carry
// no server timestamp, and a local clock stamp would mask later genuine
// server updates.
func (db *DB) UpdateMessageStatus(id, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
	return err
}

// ReplaceOptimistic swaps an optimistic row (keyed by its temporary id, which
// equals the clientId) for the server's authoritative record in a single
// transaction, so no reader ever observes zero or two rows for the message.
func (db *DB) ReplaceOptimistic(clientID string, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ? OR client_id = ?`, clientID, clientID); err != nil {
		return fmt.Errorf("remove optimistic row: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (`+messageCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ClientID, m.ChatID, m.SenderID, m.Text, m.Type, m.ReplyTo,
		m.Status, m.Edited, m.Pinned, m.Deleted, m.CreatedAt, m.UpdatedAt); err != nil {
		return fmt.Errorf("insert authoritative row: %w", err)
	}
	return tx.Commit()
}

// TombstoneMessage marks a message deleted-for-everyone: the row is retained
// with its text cleared so the timeline position survives. updated_at keeps
// the last server-sourced value.
func (db *DB) TombstoneMessage(id string) error {
	_, err := db.Exec(`UPDATE messages SET text = '', deleted = 1, pinned = 0 WHERE id = ?`, id)
	return err
}

// DeleteMessageRow physically removes a message row ("delete for me").
func (db *DB) DeleteMessageRow(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// SetPinnedExclusive pins or unpins a message. Pinning clears the flag on
// every other message in the same chat: at most one pin per chat,
// last writer wins.
func (db *DB) SetPinnedExclusive(chatID, id string, pinned bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if pinned {
		if _, err := tx.Exec(`UPDATE messages SET pinned = 0 WHERE chat_id = ? AND pinned = 1 AND id != ?`,
			chatID, id); err != nil {
			return fmt.Errorf("unpin siblings: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE messages SET pinned = ? WHERE id = ?`, pinned, id); err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return tx.Commit()
}

// LatestNonPendingCreatedAt returns the newest created_at among a chat's
// acknowledged messages. Queued/sending rows are excluded: an unacknowledged
// local message must not mask server history older than itself.
func (db *DB) LatestNonPendingCreatedAt(chatID string) (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`
		SELECT MAX(created_at) FROM messages
		WHERE chat_id = ? AND status NOT IN (?, ?)`,
		chatID, StatusQueued, StatusSending).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	if err := r.Scan(&m.ID, &m.ClientID, &m.ChatID, &m.SenderID, &m.Text, &m.Type, &m.ReplyTo,
		&m.Status, &m.Edited, &m.Pinned, &m.Deleted, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
