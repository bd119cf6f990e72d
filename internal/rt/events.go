package rt

import (
	"encoding/json"

	"go.uber.org/zap"

	"courier/internal/bus"
	"courier/internal/wire"
)

// dispatch decodes a server push into its typed payload and republishes it as
// an rt.* bus event. Undecodable or invalid payloads are logged and dropped;
// the periodic pull converges whatever a dropped push carried.
func (a *Adapter) dispatch(env envelope) {
	switch env.Event {
	case "message:new", "message:updated":
		var wm wire.Message
		if err := json.Unmarshal(env.Data, &wm); err != nil {
			a.log.Warn("bad message payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		m, err := wm.Normalize()
		if err != nil {
			a.log.Warn("invalid message record", zap.String("event", env.Event), zap.Error(err))
			return
		}
		kind := "rt.message"
		if env.Event == "message:updated" {
			kind = "rt.message_update"
		}
		a.bus.Publish(bus.Event{Kind: kind, Payload: m})

	case "message:deleted":
		var del wire.DeleteEvent
		if err := json.Unmarshal(env.Data, &del); err != nil {
			a.log.Warn("bad delete payload", zap.Error(err))
			return
		}
		a.bus.Publish(bus.Event{Kind: "rt.message_delete", Payload: del})

	case "message:status":
		var st wire.StatusEvent
		if err := json.Unmarshal(env.Data, &st); err != nil {
			a.log.Warn("bad status payload", zap.Error(err))
			return
		}
		a.bus.Publish(bus.Event{Kind: "rt.status", Payload: st})

	case "chat:new", "chat:updated":
		var wc wire.Chat
		if err := json.Unmarshal(env.Data, &wc); err != nil {
			a.log.Warn("bad chat payload", zap.Error(err))
			return
		}
		c, err := wc.Normalize()
		if err != nil {
			a.log.Warn("invalid chat record", zap.Error(err))
			return
		}
		a.bus.Publish(bus.Event{Kind: "rt.chat", Payload: c})

	case "presence":
		var p wire.PresenceEvent
		if err := json.Unmarshal(env.Data, &p); err != nil {
			a.log.Warn("bad presence payload", zap.Error(err))
			return
		}
		a.bus.Publish(bus.Event{Kind: "rt.presence", Payload: p})

	case "typing":
		var tp wire.TypingEvent
		if err := json.Unmarshal(env.Data, &tp); err != nil {
			a.log.Warn("bad typing payload", zap.Error(err))
			return
		}
		a.bus.Publish(bus.Event{Kind: "rt.typing", Payload: tp})

	default:
		a.log.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}
