package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated namespace string. Namespaces in use:
//
//	rt.*       events decoded from the realtime channel
//	message.*  message lifecycle (queued, upserted, send_ack, send_failed)
//	chat.*     chat list changes
//	sync.*     pull cycle progress
//	session.*  auth and daemon state changes
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
