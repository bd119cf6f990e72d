// Package outbox drains messages queued while offline. Draining happens in
// creation order across all chats and stops at the first failure, so relative
// order is preserved end to end.
package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/rt"
	"courier/internal/store"
	"courier/internal/wire"
)

// Sender transmits one message and reports channel health. Satisfied by
// rt.Adapter.
type Sender interface {
	SendMessage(ctx context.Context, msg rt.OutgoingMessage) (*wire.Message, error)
	Connected() bool
}

// Reconciler is the slice of the sync engine the flusher drives. Every state
// change goes through it so the merge rules stay in one place.
type Reconciler interface {
	MarkSending(clientID string) error
	RevertToQueued(clientID string) error
	Confirm(clientID string, server *store.Message) error
}

type Flusher struct {
	db     *store.DB
	engine Reconciler
	sender Sender
	bus    *bus.Bus
	log    *zap.Logger

	mu      sync.Mutex
	running bool
}

func New(db *store.DB, engine Reconciler, sender Sender, b *bus.Bus, log *zap.Logger) *Flusher {
	return &Flusher{db: db, engine: engine, sender: sender, bus: b, log: log.Named("outbox")}
}

// Run triggers a flush on reconnect, on every locally queued message, and on
// a safety ticker that catches anything the event path missed.
func (f *Flusher) Run(ctx context.Context) {
	events, cancel := f.bus.Subscribe("rt.connected", 8)
	defer cancel()
	queued, cancelQueued := f.bus.Subscribe("message.queued", 32)
	defer cancelQueued()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
		case <-queued:
		case <-ticker.C:
		}
		if err := f.Flush(ctx); err != nil {
			f.log.Warn("flush aborted", zap.Error(err))
		}
	}
}

// Flush drains the queue once. Only one drain runs at a time; overlapping
// triggers collapse into the next cycle.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if !f.sender.Connected() {
		return nil
	}

	queue, err := f.db.QueuedMessages()
	if err != nil {
		return err
	}
	for i := range queue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !f.send(ctx, &queue[i]) {
			// Stop draining: sending later messages before this one would
			// reorder the timeline on the server.
			return nil
		}
	}
	return nil
}

// send transmits one queued message and reports whether draining may
// continue.
func (f *Flusher) send(ctx context.Context, m *store.Message) bool {
	if err := f.engine.MarkSending(m.ClientID); err != nil {
		f.log.Error("mark sending failed", zap.String("client_id", m.ClientID), zap.Error(err))
		return false
	}

	ack, err := f.sender.SendMessage(ctx, rt.OutgoingMessage{
		ClientID:  m.ClientID,
		ChatID:    m.ChatID,
		Text:      m.Text,
		Type:      m.Type,
		ReplyTo:   m.ReplyTo,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		f.log.Warn("send failed, reverting to queued",
			zap.String("client_id", m.ClientID), zap.Error(err))
		if rerr := f.engine.RevertToQueued(m.ClientID); rerr != nil {
			f.log.Error("revert failed", zap.String("client_id", m.ClientID), zap.Error(rerr))
		}
		return false
	}

	server, err := ack.Normalize()
	if err != nil {
		f.log.Error("invalid ack record", zap.String("client_id", m.ClientID), zap.Error(err))
		if rerr := f.engine.RevertToQueued(m.ClientID); rerr != nil {
			f.log.Error("revert failed", zap.String("client_id", m.ClientID), zap.Error(rerr))
		}
		return false
	}
	if err := f.engine.Confirm(m.ClientID, server); err != nil {
		f.log.Error("confirm failed, reverting to queued",
			zap.String("client_id", m.ClientID), zap.Error(err))
		// Retransmitting is safe: the clientId dedupes on the server side.
		if rerr := f.engine.RevertToQueued(m.ClientID); rerr != nil {
			f.log.Error("revert failed", zap.String("client_id", m.ClientID), zap.Error(rerr))
		}
		return false
	}
	return true
}
