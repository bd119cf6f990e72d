package daemon

import (
	"context"

	"go.uber.org/zap"

	"courier/internal/auth"
	"courier/internal/bus"
	"courier/internal/rt"
	"courier/internal/status"
)

// supervise owns the realtime channel's lifetime and drives the session state
// machine from login/logout and connection events.
func supervise(ctx context.Context, adapter *rt.Adapter, machine *status.Machine, m *auth.Manager, b *bus.Bus, logger *zap.Logger) {
	log := logger.Named("supervise")
	events, cancel := b.Subscribe("", 64)
	defer cancel()

	var rtCancel context.CancelFunc
	startChannel := func() {
		if rtCancel != nil {
			return
		}
		if err := machine.Transition(status.StateConnecting); err != nil {
			log.Warn("cannot enter connecting", zap.Error(err))
			return
		}
		rtCtx, c := context.WithCancel(ctx)
		rtCancel = c
		go func() {
			if err := adapter.Run(rtCtx); err != nil && ctx.Err() == nil {
				log.Warn("realtime channel stopped", zap.Error(err))
			}
		}()
	}
	stopChannel := func() {
		if rtCancel != nil {
			rtCancel()
			rtCancel = nil
		}
	}

	if m.LoggedIn() {
		startChannel()
	} else {
		_ = machine.Transition(status.StateAuthRequired)
	}

	for {
		select {
		case <-ctx.Done():
			stopChannel()
			return
		case evt := <-events:
			switch evt.Kind {
			case "session.login":
				startChannel()
			case "session.logout":
				stopChannel()
				_ = machine.Transition(status.StateAuthRequired)
			case "rt.connected":
				_ = machine.Transition(status.StateOnline)
			case "rt.disconnected":
				if machine.Current() == status.StateOnline {
					_ = machine.Transition(status.StateOffline)
				}
			case "rt.unauthorized":
				// Refresh already failed inside the token source; the
				// session is gone for good.
				stopChannel()
				log.Warn("session rejected by server, forcing logout")
				if err := m.Clear(); err != nil {
					log.Error("clearing session failed", zap.Error(err))
				}
				_ = machine.Transition(status.StateAuthRequired)
			}
		}
	}
}
