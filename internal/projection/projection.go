// Package projection holds the volatile in-memory view of chats and messages.
// It is rebuilt from the durable store at daemon start and reset on logout.
// All reads return copies; callers never share slices with the store.
package projection

import (
	"sort"
	"sync"

	"courier/internal/store"
)

// Change describes what part of the projection moved. ChatID is empty for
// whole-store changes (reset, chat list reloads).
type Change struct {
	ChatID string
}

// Store is the process-scoped projection of the durable state. Mutations take
// the write lock, update the snapshot, and notify subscribers without
// blocking.
type Store struct {
	mu    sync.RWMutex
	chats map[string]store.Chat
	msgs  map[string][]store.Message
	subs  map[chan Change]struct{}
}

func New() *Store {
	return &Store{
		chats: make(map[string]store.Chat),
		msgs:  make(map[string][]store.Message),
		subs:  make(map[chan Change]struct{}),
	}
}

// Subscribe registers a change listener. Notifications are dropped if the
// subscriber falls behind; listeners treat a change as "re-read the snapshot",
// so a dropped notification is absorbed by the next one.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// notify is called with the write lock held.
func (s *Store) notify(c Change) {
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// PutChat inserts or replaces a chat record.
func (s *Store) PutChat(c store.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ID] = c
	s.notify(Change{})
}

// RemoveChat drops a chat and its message slice.
func (s *Store) RemoveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	delete(s.msgs, chatID)
	s.notify(Change{})
}

// Put inserts or replaces a message in its chat's timeline. A record matches
// an existing one by server id or by reconciliation key, so an optimistic
// entry and the server record that confirms it collapse into one entry.
func (s *Store) Put(m store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.msgs[m.ChatID]
	if i := indexOf(msgs, &m); i >= 0 {
		moved := msgs[i].CreatedAt != m.CreatedAt
		msgs[i] = m
		if moved {
			sortByCreatedAt(msgs)
		}
		s.msgs[m.ChatID] = msgs
		s.notify(Change{ChatID: m.ChatID})
		return
	}

	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].CreatedAt > m.CreatedAt })
	msgs = append(msgs, store.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	s.msgs[m.ChatID] = msgs
	s.notify(Change{ChatID: m.ChatID})
}

// PinExclusive marks one message pinned and clears the flag on every other
// message in the chat.
func (s *Store) PinExclusive(chatID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[chatID]
	for i := range msgs {
		msgs[i].Pinned = msgs[i].ID == id
	}
	s.notify(Change{ChatID: chatID})
}

// SetStatus updates a message's receipt status in place. Missing messages are
// ignored; the next pull converges them.
func (s *Store) SetStatus(chatID, id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[chatID]
	for i := range msgs {
		if msgs[i].ID == id {
			msgs[i].Status = status
			s.notify(Change{ChatID: chatID})
			return
		}
	}
}

// Remove drops a message entry entirely (delete-for-me).
func (s *Store) Remove(chatID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[chatID]
	for i := range msgs {
		if msgs[i].ID == id {
			s.msgs[chatID] = append(msgs[:i], msgs[i+1:]...)
			s.notify(Change{ChatID: chatID})
			return
		}
	}
}

// Chats returns the chat list ordered by most recent activity.
func (s *Store) Chats() []store.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Chat returns a single chat snapshot and whether it exists.
func (s *Store) Chat(chatID string) (store.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	return c, ok
}

// Messages returns a copy of a chat's timeline, ascending by createdAt.
func (s *Store) Messages(chatID string) []store.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.msgs[chatID]
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Message finds a message by server id or reconciliation key.
func (s *Store) Message(chatID, id string) (store.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.msgs[chatID] {
		if m.ID == id || (m.ClientID != "" && m.ClientID == id) {
			return m, true
		}
	}
	return store.Message{}, false
}

// Reset clears everything. Called on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[string]store.Chat)
	s.msgs = make(map[string][]store.Message)
	s.notify(Change{})
}

func indexOf(msgs []store.Message, m *store.Message) int {
	key := m.Key()
	for i := range msgs {
		if m.ID != "" && msgs[i].ID == m.ID {
			return i
		}
		if msgs[i].Key() == key {
			return i
		}
	}
	return -1
}

func sortByCreatedAt(msgs []store.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })
}
