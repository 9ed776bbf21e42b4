// Package daemon wires the subsystem together and runs it as a service.
package daemon

import (
	"context"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/gate"
	"github.com/parley-chat/parley/internal/lock"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/retention"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideRouter,
			provideChatService,
			provideGate,
			provideAuthenticator,
			provideSweeper,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(config.LogPath(p.Config.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := config.EnsureDirs(p.Config.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("data_dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := config.DBPath(p.Config.DataDir)
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

func provideRegistry(b *bus.Bus) *presence.Registry[*delivery.Session] {
	return presence.NewRegistry[*delivery.Session](b)
}

func provideRouter(reg *presence.Registry[*delivery.Session], b *bus.Bus, logger *zap.Logger) *delivery.Router {
	return delivery.NewRouter(reg, b, logger)
}

func provideChatService(db *store.DB, b *bus.Bus, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, b, logger)
}

func provideGate(db *store.DB, logger *zap.Logger) *gate.Gate {
	return gate.New(db, logger)
}

func provideAuthenticator(p Params) *auth.Authenticator {
	return auth.NewAuthenticator(p.Config.TokenSecret, p.Config.TokenTTL.Duration)
}

func provideSweeper(p Params, db *store.DB, logger *zap.Logger) *retention.Sweeper {
	return retention.NewSweeper(db, logger,
		p.Config.RetentionGrace.Duration,
		p.Config.RetentionInterval.Duration)
}

func provideHandler(
	p Params,
	db *store.DB,
	svc *chat.Service,
	g *gate.Gate,
	authn *auth.Authenticator,
	reg *presence.Registry[*delivery.Session],
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(db, svc, g, authn, reg, logger, api.Options{
		SessionBuffer: p.Config.SessionBuffer,
		TypingRate:    p.Config.TypingRate,
		TypingBurst:   p.Config.TypingBurst,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	router *delivery.Router,
	sweeper *retention.Sweeper,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			router.Start(context.Background())
			sweeper.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			sweeper.Stop()
			router.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
