package sync

import (
	"context"

	"go.uber.org/zap"

	"courier/internal/store"
)

// RemoteCursor fetches the server-side per-chat cursor, the fallback for a
// client that lost its local meta table. Satisfied by rest.Client.
type RemoteCursor interface {
	ServerCursor(ctx context.Context, chatID string) (int64, error)
}

// CursorManager decides the pull window for each chat and advances the
// per-chat cursor once a pull is durably merged.
type CursorManager struct {
	db     *store.DB
	remote RemoteCursor
	log    *zap.Logger
}

func NewCursorManager(db *store.DB, remote RemoteCursor, log *zap.Logger) *CursorManager {
	return &CursorManager{db: db, remote: remote, log: log.Named("cursor")}
}

// Seed initializes a chat's cursor from its last-message timestamp during
// hydration, so a fresh install does not re-pull full history. A no-op when a
// cursor already exists.
func (c *CursorManager) Seed(chatID string, lastMessageAt int64) error {
	if lastMessageAt <= 0 {
		return nil
	}
	current, err := c.db.Cursor(chatID)
	if err != nil {
		return err
	}
	if current > 0 {
		return nil
	}
	return c.db.SetCursor(chatID, lastMessageAt)
}

// Candidate computes the pull floor:
// max(stored cursor, latest non-pending local createdAt). Queued and sending
// rows are excluded because a local clock ahead of the server must not mask
// unpulled history. A missing local cursor falls back to the server-side one.
func (c *CursorManager) Candidate(ctx context.Context, chatID string) (int64, error) {
	stored, err := c.db.Cursor(chatID)
	if err != nil {
		return 0, err
	}
	if stored == 0 && c.remote != nil {
		ts, err := c.remote.ServerCursor(ctx, chatID)
		if err != nil {
			c.log.Debug("server cursor unavailable", zap.String("chat_id", chatID), zap.Error(err))
		} else if ts > 0 {
			if err := c.db.SetCursor(chatID, ts); err != nil {
				return 0, err
			}
			stored = ts
		}
	}

	local, err := c.db.LatestNonPendingCreatedAt(chatID)
	if err != nil {
		return 0, err
	}
	if local > stored {
		return local, nil
	}
	return stored, nil
}

// Advance persists the post-merge cursor: the batch maximum, or the candidate
// itself when the batch was empty so the same empty window is not re-pulled.
// The store refuses backward writes, so a stale advance is a no-op.
func (c *CursorManager) Advance(chatID string, candidate, batchMax int64) error {
	ts := batchMax
	if ts == 0 {
		ts = candidate
	}
	if ts <= 0 {
		return nil
	}
	return c.db.SetCursor(chatID, ts)
}
