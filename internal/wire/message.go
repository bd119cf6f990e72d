// Package wire decodes server JSON payloads into store records. Every field
// the server may omit is a pointer here, so "absent" survives the decode and
// is distinguishable from a zero value at the merge layer.
package wire

import (
	"fmt"

	"courier/internal/store"
)

// Message is the wire shape of a message record as the server sends it,
// over both REST and the realtime channel.
type Message struct {
	ID        string  `json:"id"`
	ClientID  *string `json:"clientId"`
	ChatID    string  `json:"chatId"`
	SenderID  string  `json:"senderId"`
	Text      *string `json:"text"`
	Type      *string `json:"type"`
	ReplyTo   *string `json:"replyTo"`
	Status    *string `json:"status"`
	Edited    *bool   `json:"edited"`
	Pinned    *bool   `json:"pinned"`
	Deleted   *bool   `json:"deleted"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt *int64  `json:"updatedAt"`
}

// Normalize validates required fields and converts the wire record into a
// store.Message. Absent text decodes to "", which the merge layer treats as
// "unchanged" for existing rows.
func (w *Message) Normalize() (*store.Message, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("message missing id")
	}
	if w.ChatID == "" {
		return nil, fmt.Errorf("message %s missing chatId", w.ID)
	}
	if w.SenderID == "" {
		return nil, fmt.Errorf("message %s missing senderId", w.ID)
	}
	if w.CreatedAt <= 0 {
		return nil, fmt.Errorf("message %s missing createdAt", w.ID)
	}

	m := &store.Message{
		ID:        w.ID,
		ChatID:    w.ChatID,
		SenderID:  w.SenderID,
		Type:      store.TypeText,
		Status:    store.StatusSent,
		CreatedAt: w.CreatedAt,
	}
	if w.ClientID != nil {
		m.ClientID = *w.ClientID
	}
	if w.Text != nil {
		m.Text = *w.Text
	}
	if w.Type != nil && *w.Type != "" {
		m.Type = *w.Type
	}
	if w.ReplyTo != nil {
		m.ReplyTo = *w.ReplyTo
	}
	if w.Status != nil && *w.Status != "" {
		m.Status = *w.Status
	}
	if w.Edited != nil {
		m.Edited = *w.Edited
	}
	if w.Pinned != nil {
		m.Pinned = *w.Pinned
		m.PinnedSet = true
	}
	if w.Deleted != nil {
		m.Deleted = *w.Deleted
	}
	if w.UpdatedAt != nil {
		m.UpdatedAt = *w.UpdatedAt
	} else {
		m.UpdatedAt = w.CreatedAt
	}
	return m, nil
}

// Chat is the wire shape of a chat record.
type Chat struct {
	ID           string              `json:"id"`
	Participants []store.Participant `json:"participants"`
	LastMessage  *Message            `json:"lastMessage"`
	UpdatedAt    int64               `json:"updatedAt"`
}

// Normalize validates required fields and converts the wire record into a
// store.Chat, deriving the last-message snapshot fields.
func (w *Chat) Normalize() (*store.Chat, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("chat missing id")
	}

	c := &store.Chat{
		ID:           w.ID,
		Participants: w.Participants,
		UpdatedAt:    w.UpdatedAt,
	}
	if w.LastMessage != nil {
		last, err := w.LastMessage.Normalize()
		if err != nil {
			return nil, fmt.Errorf("chat %s: %w", w.ID, err)
		}
		c.LastMessageID = last.ID
		c.LastMessagePreview = truncate(last.Text, 100)
		c.LastMessageAt = last.CreatedAt
	}
	return c, nil
}

// StatusEvent is a targeted receipt-status change.
type StatusEvent struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// DeleteEvent announces delete-for-everyone tombstones.
type DeleteEvent struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// PresenceEvent announces a user coming online or going offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// TypingEvent announces a typing indicator change.
type TypingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
