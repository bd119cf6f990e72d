package store

import (
	"database/sql"
	"strconv"
	"strings"
)

// Meta key prefixes. Cursors and chat tombstones live in the generic meta
// table alongside auth material.
const (
	cursorPrefix    = "cursor_"
	tombstonePrefix = "chat_tombstone_"
)

// GetMeta returns a meta value and whether the key exists.
func (db *DB) GetMeta(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta inserts or updates a meta value.
func (db *DB) SetMeta(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// DeleteMeta removes a meta key.
func (db *DB) DeleteMeta(key string) error {
	_, err := db.Exec(`DELETE FROM meta WHERE key = ?`, key)
	return err
}

// Cursor returns the sync cursor for a chat, 0 if never synced.
func (db *DB) Cursor(chatID string) (int64, error) {
	value, ok, err := db.GetMeta(cursorPrefix + chatID)
	if err != nil || !ok {
		return 0, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, nil
	}
	return ts, nil
}

// SetCursor advances the sync cursor for a chat. The cursor never moves
// backward: writes with an older timestamp are no-ops.
func (db *DB) SetCursor(chatID string, ts int64) error {
	current, err := db.Cursor(chatID)
	if err != nil {
		return err
	}
	if ts <= current {
		return nil
	}
	return db.SetMeta(cursorPrefix+chatID, strconv.FormatInt(ts, 10))
}

// AddChatTombstone marks a chat deleted-for-me. Tombstoned chats are
// filtered out of hydration and server merges until revived.
func (db *DB) AddChatTombstone(chatID string) error {
	return db.SetMeta(tombstonePrefix+chatID, "1")
}

// RemoveChatTombstone revives a deleted-for-me chat.
func (db *DB) RemoveChatTombstone(chatID string) error {
	return db.DeleteMeta(tombstonePrefix + chatID)
}

// IsChatTombstoned reports whether a chat is deleted-for-me.
func (db *DB) IsChatTombstoned(chatID string) (bool, error) {
	_, ok, err := db.GetMeta(tombstonePrefix + chatID)
	return ok, err
}

// ChatTombstones returns the set of deleted-for-me chat ids.
func (db *DB) ChatTombstones() ([]string, error) {
	rows, err := db.Query(`SELECT key FROM meta WHERE key LIKE ?`, tombstonePrefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		ids = append(ids, strings.TrimPrefix(key, tombstonePrefix))
	}
	return ids, rows.Err()
}
