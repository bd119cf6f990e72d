// Package daemon composes the long-running process for one profile: store,
// sync machinery, realtime channel, and the local API socket.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"courier/internal/api"
	"courier/internal/auth"
	"courier/internal/bus"
	"courier/internal/config"
	"courier/internal/lock"
	"courier/internal/logging"
	"courier/internal/outbox"
	"courier/internal/presence"
	"courier/internal/projection"
	"courier/internal/rest"
	"courier/internal/rt"
	"courier/internal/session"
	"courier/internal/status"
	"courier/internal/store"
	intsync "courier/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideProjection,
			provideAuth,
			provideRest,
			provideAdapter,
			provideEngine,
			provideCursors,
			providePuller,
			provideFlusher,
			providePresence,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus, logger *zap.Logger) *status.Machine {
	return status.NewMachine(b, logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideProjection() *projection.Store {
	return projection.New()
}

func provideAuth(db *store.DB, logger *zap.Logger) *auth.Manager {
	return auth.NewManager(db, nil, logger)
}

func provideRest(p Params, m *auth.Manager, logger *zap.Logger) *rest.Client {
	c := rest.NewClient(p.Config.ServerURL, m, logger)
	m.SetRefresher(c)
	return c
}

func provideAdapter(p Params, m *auth.Manager, b *bus.Bus, logger *zap.Logger) *rt.Adapter {
	return rt.New(p.Config.ServerURL, m, b, p.Config.SendTimeout(), logger)
}

func provideEngine(db *store.DB, proj *projection.Store, b *bus.Bus, m *auth.Manager, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, proj, b, m, logger)
}

func provideCursors(db *store.DB, client *rest.Client, logger *zap.Logger) *intsync.CursorManager {
	return intsync.NewCursorManager(db, client, logger)
}

func providePuller(p Params, db *store.DB, engine *intsync.Engine, cursors *intsync.CursorManager, client *rest.Client, adapter *rt.Adapter, b *bus.Bus, logger *zap.Logger) *intsync.Puller {
	return intsync.NewPuller(db, engine, cursors, client, adapter, b, p.Config.PollInterval(), logger)
}

func provideFlusher(db *store.DB, engine *intsync.Engine, adapter *rt.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Flusher {
	return outbox.New(db, engine, adapter, b, logger)
}

func providePresence(b *bus.Bus) *presence.Tracker {
	return presence.NewTracker(b)
}

func provideAPI(
	db *store.DB,
	proj *projection.Store,
	engine *intsync.Engine,
	puller *intsync.Puller,
	flusher *outbox.Flusher,
	client *rest.Client,
	m *auth.Manager,
	tracker *presence.Tracker,
	machine *status.Machine,
	adapter *rt.Adapter,
	b *bus.Bus,
	logger *zap.Logger,
) *api.Server {
	return api.NewServer(api.Deps{
		DB:         db,
		Projection: proj,
		Engine:     engine,
		Puller:     puller,
		Flusher:    flusher,
		Rest:       client,
		Auth:       m,
		Presence:   tracker,
		Machine:    machine,
		RT:         adapter,
		Bus:        b,
		Log:        logger,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	engine *intsync.Engine,
	puller *intsync.Puller,
	flusher *outbox.Flusher,
	tracker *presence.Tracker,
	adapter *rt.Adapter,
	machine *status.Machine,
	m *auth.Manager,
	b *bus.Bus,
	logger *zap.Logger,
) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx, c := context.WithCancel(context.Background())
			cancel = c

			requeued, err := db.RequeueSending()
			if err != nil {
				return err
			}
			if requeued > 0 {
				logger.Info("requeued sends interrupted by shutdown", zap.Int64("count", requeued))
			}

			if err := engine.HydrateProjection(); err != nil {
				return err
			}

			go engine.Run(ctx)
			go puller.Run(ctx)
			go flusher.Run(ctx)
			go tracker.Run(ctx)
			go supervise(ctx, adapter, machine, m, b, logger)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.StateStopping)
			if cancel != nil {
				cancel()
			}
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
