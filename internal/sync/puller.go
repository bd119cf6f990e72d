package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/store"
	"courier/internal/wire"
)

// PullClient is the subset of the REST client the puller needs.
type PullClient interface {
	Chats(ctx context.Context) ([]wire.Chat, error)
	MessagesSince(ctx context.Context, chatID string, since int64) ([]wire.Message, error)
}

// Rooms joins realtime rooms for hydrated chats. Optional.
type Rooms interface {
	JoinChat(ctx context.Context, chatID string) error
}

// Puller runs the periodic sync cycle: hydrate the chat list, then pull each
// chat's window and advance its cursor. A reconnect triggers an immediate
// cycle on top of the interval.
type Puller struct {
	db       *store.DB
	engine   *Engine
	cursors  *CursorManager
	client   PullClient
	rooms    Rooms
	bus      *bus.Bus
	interval time.Duration
	log      *zap.Logger
}

func NewPuller(db *store.DB, engine *Engine, cursors *CursorManager, client PullClient, rooms Rooms, b *bus.Bus, interval time.Duration, log *zap.Logger) *Puller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Puller{
		db:       db,
		engine:   engine,
		cursors:  cursors,
		client:   client,
		rooms:    rooms,
		bus:      b,
		interval: interval,
		log:      log.Named("puller"),
	}
}

// Run loops until the context is canceled. Cycles are triggered by the
// interval ticker and by rt.connected events.
func (p *Puller) Run(ctx context.Context) {
	events, cancel := p.bus.Subscribe("rt.connected", 4)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
		case <-ticker.C:
		}
		if err := p.SyncAll(ctx); err != nil {
			p.log.Warn("sync cycle failed", zap.Error(err))
		}
	}
}

// SyncAll performs one full cycle. A failed chat pull leaves that chat's
// cursor untouched and moves on; the protocol is at-least-once and the engine
// deduplicates, so retrying the same window is always safe.
func (p *Puller) SyncAll(ctx context.Context) error {
	chats, err := p.hydrate(ctx)
	if err != nil {
		return err
	}

	for _, chatID := range chats {
		if err := p.syncChat(ctx, chatID); err != nil {
			p.log.Warn("chat sync failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	p.bus.Publish(bus.Event{Kind: "sync.completed"})
	return nil
}

// hydrate merges the server's chat list, seeds cursors for chats seen for the
// first time, and joins their realtime rooms. Chats deleted-for-me are
// dropped before any of that.
func (p *Puller) hydrate(ctx context.Context) ([]string, error) {
	wireChats, err := p.client.Chats(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for i := range wireChats {
		c, err := wireChats[i].Normalize()
		if err != nil {
			p.log.Warn("invalid chat record", zap.Error(err))
			continue
		}
		tombstoned, err := p.db.IsChatTombstoned(c.ID)
		if err != nil {
			return nil, err
		}
		if tombstoned {
			continue
		}
		if err := p.cursors.Seed(c.ID, c.LastMessageAt); err != nil {
			return nil, err
		}
		if err := p.engine.ApplyChat(c); err != nil {
			return nil, err
		}
		if p.rooms != nil {
			if err := p.rooms.JoinChat(ctx, c.ID); err != nil {
				p.log.Debug("room join failed", zap.String("chat_id", c.ID), zap.Error(err))
			}
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (p *Puller) syncChat(ctx context.Context, chatID string) error {
	candidate, err := p.cursors.Candidate(ctx, chatID)
	if err != nil {
		return err
	}

	wireMsgs, err := p.client.MessagesSince(ctx, chatID, candidate)
	if err != nil {
		// Cursor untouched; the same window is retried next cycle.
		return err
	}

	msgs := make([]*store.Message, 0, len(wireMsgs))
	for i := range wireMsgs {
		m, err := wireMsgs[i].Normalize()
		if err != nil {
			p.log.Warn("invalid message record", zap.String("chat_id", chatID), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}

	batchMax, err := p.engine.IngestBatch(msgs)
	if err != nil {
		return err
	}
	return p.cursors.Advance(chatID, candidate, batchMax)
}
