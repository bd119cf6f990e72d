// Package sync reconciles server records with local state. The engine is the
// single write path into the durable store and the projection for anything
// that originates from the server; the puller and the realtime feed both go
// through it, so merge rules live in exactly one place.
package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/projection"
	"courier/internal/store"
	"courier/internal/wire"
)

// Identity reports who the logged-in user is. Satisfied by auth.Manager.
type Identity interface {
	SelfID() string
}

// Engine applies server records to the durable store and the projection.
// All entry points serialize on one mutex, so an interleaved realtime event
// and pull batch cannot observe each other's partial writes.
type Engine struct {
	mu   sync.Mutex
	db   *store.DB
	proj *projection.Store
	bus  *bus.Bus
	id   Identity
	log  *zap.Logger
}

func NewEngine(db *store.DB, proj *projection.Store, b *bus.Bus, id Identity, log *zap.Logger) *Engine {
	return &Engine{db: db, proj: proj, bus: b, id: id, log: log.Named("sync")}
}

// Ingest merges one server message record. Resolution order:
//
//  1. a row with the same server id exists: field-merge into it
//  2. the record is our own and a pending optimistic row matches its
//     clientId: replace that row in place
//  3. otherwise: insert
//
// Records for chats deleted-for-me are dropped.
func (e *Engine) Ingest(m *store.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingestLocked(m)
}

// IngestBatch merges a pull batch and returns the highest createdAt/updatedAt
// seen, which is the cursor advance candidate. A record that fails to merge
// aborts the batch so the cursor cannot move past an unmerged record.
func (e *Engine) IngestBatch(msgs []*store.Message) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var maxTS int64
	for _, m := range msgs {
		if err := e.ingestLocked(m); err != nil {
			return 0, fmt.Errorf("merge message %s: %w", m.ID, err)
		}
		if m.CreatedAt > maxTS {
			maxTS = m.CreatedAt
		}
		if m.UpdatedAt > maxTS {
			maxTS = m.UpdatedAt
		}
	}
	return maxTS, nil
}

func (e *Engine) ingestLocked(m *store.Message) error {
	tombstoned, err := e.db.IsChatTombstoned(m.ChatID)
	if err != nil {
		return err
	}
	if tombstoned {
		return nil
	}

	existing, err := e.db.GetMessage(m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		merged := mergeMessage(existing, m)
		if err := e.db.UpsertMessage(merged); err != nil {
			return err
		}
		return e.applyPinLocked(merged)
	}

	if m.ClientID != "" && m.SenderID == e.id.SelfID() {
		optimistic, err := e.db.GetMessageByClientID(m.ClientID)
		if err != nil {
			return err
		}
		if optimistic != nil {
			merged := mergeMessage(optimistic, m)
			merged.ID = m.ID
			merged.CreatedAt = m.CreatedAt
			if err := e.db.ReplaceOptimistic(m.ClientID, merged); err != nil {
				return err
			}
			if err := e.applyPinLocked(merged); err != nil {
				return err
			}
			e.bus.Publish(bus.Event{Kind: "message.send_ack", Payload: merged})
			return nil
		}
	}

	if err := e.db.UpsertMessage(m); err != nil {
		return err
	}
	return e.applyPinLocked(m)
}

// applyPinLocked pushes the merged row into the projection and enforces the
// one-pin-per-chat rule when the row is pinned.
func (e *Engine) applyPinLocked(m *store.Message) error {
	if m.Pinned {
		if err := e.db.SetPinnedExclusive(m.ChatID, m.ID, true); err != nil {
			return err
		}
	}
	e.proj.Put(*m)
	if m.Pinned {
		e.proj.PinExclusive(m.ChatID, m.ID)
	}
	e.bus.Publish(bus.Event{Kind: "message.upserted", Payload: m})
	return nil
}

// mergeMessage folds an incoming server record into the local row. The local
// row's identity and createdAt win; status never moves backward; empty
// incoming text does not erase local text unless the record is a tombstone;
// the pin only changes when the record carried an explicit pinned value.
func mergeMessage(local, incoming *store.Message) *store.Message {
	out := *local

	if incoming.ClientID != "" {
		out.ClientID = incoming.ClientID
	}
	if incoming.Text != "" || incoming.Deleted {
		out.Text = incoming.Text
	}
	if incoming.Type != "" {
		out.Type = incoming.Type
	}
	if incoming.ReplyTo != "" {
		out.ReplyTo = incoming.ReplyTo
	}
	if store.StatusRank(incoming.Status) > store.StatusRank(out.Status) {
		out.Status = incoming.Status
	}
	out.Edited = out.Edited || incoming.Edited
	out.Deleted = out.Deleted || incoming.Deleted
	if incoming.PinnedSet {
		out.Pinned = incoming.Pinned
	}
	if incoming.UpdatedAt > out.UpdatedAt {
		out.UpdatedAt = incoming.UpdatedAt
	}
	if incoming.Deleted {
		out.Text = ""
		out.Pinned = false
	}
	return &out
}

// ApplyStatus handles a targeted receipt-status event. Unknown message ids
// are ignored; regressions are ignored.
func (e *Engine) ApplyStatus(ev wire.StatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.db.GetMessage(ev.MessageID)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	if store.StatusRank(ev.Status) <= store.StatusRank(m.Status) {
		return nil
	}
	if err := e.db.UpdateMessageStatus(m.ID, ev.Status); err != nil {
		return err
	}
	e.proj.SetStatus(m.ChatID, m.ID, ev.Status)
	e.bus.Publish(bus.Event{Kind: "message.status", Payload: ev})
	return nil
}

// ApplyDelete tombstones delete-for-everyone targets. Rows stay in the
// timeline with their text cleared.
func (e *Engine) ApplyDelete(ev wire.DeleteEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ev.MessageIDs {
		if err := e.db.TombstoneMessage(id); err != nil {
			return err
		}
		m, err := e.db.GetMessage(id)
		if err != nil {
			return err
		}
		if m != nil {
			e.proj.Put(*m)
		}
	}
	e.bus.Publish(bus.Event{Kind: "message.deleted", Payload: ev})
	return nil
}

// ApplyChat merges a chat record, dropping chats deleted-for-me.
func (e *Engine) ApplyChat(c *store.Chat) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tombstoned, err := e.db.IsChatTombstoned(c.ID)
	if err != nil {
		return err
	}
	if tombstoned {
		return nil
	}
	if err := e.db.UpsertChat(c); err != nil {
		return err
	}
	if fresh, err := e.db.GetChat(c.ID); err == nil && fresh != nil {
		e.proj.PutChat(*fresh)
	}
	e.bus.Publish(bus.Event{Kind: "chat.upserted", Payload: c})
	return nil
}

// AddLocal creates an optimistic message: durable row keyed by a fresh
// clientId, queued status, projected immediately. The flusher picks it up via
// the message.queued event.
func (e *Engine) AddLocal(chatID, text, msgType, replyTo string) (*store.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msgType == "" {
		msgType = store.TypeText
	}
	now := time.Now().UnixMilli()
	clientID := "c-" + uuid.NewString()
	m := &store.Message{
		ID:        clientID,
		ClientID:  clientID,
		ChatID:    chatID,
		SenderID:  e.id.SelfID(),
		Text:      text,
		Type:      msgType,
		ReplyTo:   replyTo,
		Status:    store.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.db.UpsertMessage(m); err != nil {
		return nil, err
	}
	e.proj.Put(*m)
	e.bus.Publish(bus.Event{Kind: "message.queued", Payload: m})
	return m, nil
}

// MarkSending flips an optimistic row to sending before transmission, in
// both stores, so a crash mid-send leaves an observable state.
func (e *Engine) MarkSending(clientID string) error {
	return e.setPendingStatus(clientID, store.StatusQueued, store.StatusSending)
}

// RevertToQueued is the one sanctioned backward transition, taken when a send
// fails or its ack times out.
func (e *Engine) RevertToQueued(clientID string) error {
	err := e.setPendingStatus(clientID, store.StatusSending, store.StatusQueued)
	if err == nil {
		e.bus.Publish(bus.Event{Kind: "message.send_failed", Payload: clientID})
	}
	return err
}

func (e *Engine) setPendingStatus(clientID, from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.db.GetMessageByClientID(clientID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no pending message with clientId %s", clientID)
	}
	if m.Status != from {
		return nil
	}
	if err := e.db.UpdateMessageStatus(m.ID, to); err != nil {
		return err
	}
	e.proj.SetStatus(m.ChatID, m.ID, to)
	return nil
}

// Confirm applies a send ack: the server record replaces the optimistic row.
func (e *Engine) Confirm(clientID string, server *store.Message) error {
	if server.ClientID == "" {
		server.ClientID = clientID
	}
	return e.Ingest(server)
}
