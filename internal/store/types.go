package store

import "strconv"

// Message status values. Normal progression is queued -> sending -> sent ->
// read; the only backward transition is sending -> queued when a send times
// out or fails.
const (
	StatusQueued  = "queued"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusRead    = "read"
)

// Message type values.
const (
	TypeText   = "text"
	TypeMedia  = "media"
	TypeSystem = "system"
)

var statusRank = map[string]int{
	StatusQueued:  0,
	StatusSending: 1,
	StatusSent:    2,
	StatusRead:    3,
}

// StatusRank returns the ordering rank of a message status. Unknown statuses
// rank lowest so they never mask a known state.
func StatusRank(s string) int {
	return statusRank[s]
}

// Pending reports whether a status means the message has not been
// acknowledged by the server yet.
func Pending(s string) bool {
	return s == StatusQueued || s == StatusSending
}

// Participant is a chat member with a cached username.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Chat represents a synced chat.
type Chat struct {
	ID                 string        `json:"id"`
	Participants       []Participant `json:"participants"`
	LastMessageID      string        `json:"lastMessageId,omitempty"`
	LastMessagePreview string        `json:"lastMessagePreview,omitempty"`
	LastMessageAt      int64         `json:"lastMessageAt,omitempty"`
	UpdatedAt          int64         `json:"updatedAt"`
}

// Message represents a message row.
//
// ID is the server-assigned identity; before the server acknowledges an
// optimistic message, ID equals ClientID. ClientID is minted by the
// originating device and is stable for the message's entire lifetime; it is
// the reconciliation key.
type Message struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId,omitempty"`
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
	Type     string `json:"type"`
	ReplyTo  string `json:"replyTo,omitempty"`
	Status   string `json:"status"`
	Edited   bool   `json:"edited,omitempty"`
	Pinned   bool   `json:"pinned,omitempty"`
	// PinnedSet records whether the record carried an explicit pinned value.
	// In-memory only; a merge treats an unset pin as "unchanged".
	PinnedSet bool  `json:"-"`
	Deleted   bool  `json:"deleted,omitempty"`
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// Key returns the stable identity used by renderers: the clientId when
// present, otherwise a chat+sender+timestamp composite. Reconciliation swaps
// the server id into a row without changing its Key, so list identity never
// churns.
func (m *Message) Key() string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return m.ChatID + "/" + m.SenderID + "/" + strconv.FormatInt(m.CreatedAt, 10)
}
