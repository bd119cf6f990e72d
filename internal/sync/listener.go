package sync

import (
	"context"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/store"
	"courier/internal/wire"
)

// Run consumes decoded realtime events and routes them through the merge
// paths. The realtime adapter stays transport-only; everything that touches
// state goes through here.
func (e *Engine) Run(ctx context.Context) {
	events, cancel := e.bus.Subscribe("rt.", 64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			e.handle(evt)
		}
	}
}

func (e *Engine) handle(evt bus.Event) {
	var err error
	switch payload := evt.Payload.(type) {
	case *store.Message:
		err = e.Ingest(payload)
	case *store.Chat:
		err = e.ApplyChat(payload)
	case wire.StatusEvent:
		err = e.ApplyStatus(payload)
	case wire.DeleteEvent:
		err = e.ApplyDelete(payload)
	default:
		// Connection lifecycle and presence events are not merge input.
		return
	}
	if err != nil {
		e.log.Error("merge failed", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// HydrateProjection rebuilds the in-memory view from the durable store at
// daemon start. Chats deleted-for-me have no rows left, so nothing filters
// here.
func (e *Engine) HydrateProjection() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chats, err := e.db.ListChats(500, 0)
	if err != nil {
		return err
	}
	for _, c := range chats {
		e.proj.PutChat(c)
		msgs, err := e.db.ListMessages(c.ID, 0, 100)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			e.proj.Put(m)
		}
	}
	return nil
}
