// Package status tracks the daemon's session lifecycle as a small state
// machine. Components consult the current state instead of probing the
// network, and state changes fan out over the bus.
package status

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"courier/internal/bus"
)

type State string

const (
	// StateStarting is the initial state while the daemon boots.
	StateStarting State = "starting"
	// StateAuthRequired means no valid session exists; the user must log in.
	StateAuthRequired State = "auth_required"
	// StateConnecting means the realtime channel is being established.
	StateConnecting State = "connecting"
	// StateOnline means the realtime channel is up and sync is live.
	StateOnline State = "online"
	// StateOffline means the channel is down; queued work waits for reconnect.
	StateOffline State = "offline"
	// StateStopping is terminal.
	StateStopping State = "stopping"
)

var validTransitions = map[State][]State{
	StateStarting:     {StateAuthRequired, StateConnecting, StateStopping},
	StateAuthRequired: {StateConnecting, StateStopping},
	StateConnecting:   {StateOnline, StateOffline, StateAuthRequired, StateStopping},
	StateOnline:       {StateOffline, StateAuthRequired, StateStopping},
	StateOffline:      {StateConnecting, StateOnline, StateAuthRequired, StateStopping},
	StateStopping:     {},
}

// Change is the bus payload for a state transition.
type Change struct {
	From State `json:"from"`
	To   State `json:"to"`
}

type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	log     *zap.Logger
}

func NewMachine(b *bus.Bus, log *zap.Logger) *Machine {
	return &Machine{current: StateStarting, bus: b, log: log.Named("status")}
}

// Current returns the present session state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state, rejecting edges not in the transition
// table. A transition to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.log.Info("session state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	m.bus.Publish(bus.Event{Kind: "session.state", Payload: Change{From: from, To: to}})
	return nil
}

func allowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
