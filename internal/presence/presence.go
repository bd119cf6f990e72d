// Package presence tracks who is online and who is typing. Purely ephemeral:
// fed by realtime events, never persisted, gone on restart.
package presence

import (
	"context"
	"sync"
	"time"

	"courier/internal/bus"
	"courier/internal/wire"
)

// typingTTL bounds how long a typing indicator survives without a refresh,
// covering the case where the stop event is lost.
const typingTTL = 5 * time.Second

type typingKey struct {
	chatID string
	userID string
}

type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	typing map[typingKey]time.Time
	bus    *bus.Bus
	now    func() time.Time
}

func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		online: make(map[string]struct{}),
		typing: make(map[typingKey]time.Time),
		bus:    b,
		now:    time.Now,
	}
}

// Run consumes presence and typing events until the context is canceled.
func (t *Tracker) Run(ctx context.Context) {
	events, cancel := t.bus.Subscribe("rt.", 64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			switch payload := evt.Payload.(type) {
			case wire.PresenceEvent:
				t.setOnline(payload.UserID, payload.Online)
			case wire.TypingEvent:
				t.setTyping(payload.ChatID, payload.UserID, payload.Typing)
			}
			if evt.Kind == "rt.disconnected" {
				t.clear()
			}
		}
	}
}

func (t *Tracker) setOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
}

func (t *Tracker) setTyping(chatID, userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{chatID: chatID, userID: userID}
	if typing {
		t.typing[key] = t.now().Add(typingTTL)
	} else {
		delete(t.typing, key)
	}
}

// clear drops all state; stale presence after a reconnect would be a lie.
func (t *Tracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
	t.typing = make(map[typingKey]time.Time)
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns all users currently online.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// TypingIn returns the users with a live typing indicator in a chat. Expired
// entries are pruned on read.
func (t *Tracker) TypingIn(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []string
	for key, deadline := range t.typing {
		if now.After(deadline) {
			delete(t.typing, key)
			continue
		}
		if key.chatID == chatID {
			out = append(out, key.userID)
		}
	}
	return out
}
