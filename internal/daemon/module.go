package daemon

import (
	"context"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courier-chat/courier/internal/bus"
	"github.com/courier-chat/courier/internal/codec"
	"github.com/courier-chat/courier/internal/config"
	"github.com/courier-chat/courier/internal/connectivity"
	"github.com/courier-chat/courier/internal/conversation"
	"github.com/courier-chat/courier/internal/edit"
	"github.com/courier-chat/courier/internal/lock"
	"github.com/courier-chat/courier/internal/logging"
	"github.com/courier-chat/courier/internal/messenger"
	"github.com/courier-chat/courier/internal/session"
	"github.com/courier-chat/courier/internal/status"
	"github.com/courier-chat/courier/internal/store"
	"github.com/courier-chat/courier/internal/transport"
)

// probeInterval is how often connectivity is re-checked while running.
const probeInterval = 5 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCodec,
			provideMonitor,
			provideTracker,
			provideEditor,
			provideAssembler,
			provideTransport,
			provideMessenger,
			providePoller,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideCodec(cfg *config.Config, logger *zap.Logger) (codec.Codec, error) {
	c, err := codec.FromConfig(cfg.Codec, cfg.Identity.UserID)
	if err != nil {
		return nil, err
	}
	logger.Info("codec selected", zap.String("scheme", cfg.Codec.Scheme))
	return c, nil
}

func provideMonitor(b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(b, logger)
}

func provideTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) *status.Tracker {
	return status.New(db, b, logger)
}

func provideEditor(db *store.DB, c codec.Codec, b *bus.Bus, logger *zap.Logger) *edit.Controller {
	return edit.New(db, c, b, logger, nil)
}

func provideAssembler(cfg *config.Config, db *store.DB, c codec.Codec, logger *zap.Logger) *conversation.Assembler {
	return conversation.NewAssembler(db, c, cfg.Identity.UserID, 100, logger)
}

func provideTransport(b *bus.Bus, logger *zap.Logger) messenger.Transport {
	return transport.NewLoopback(b, logger)
}

func provideMessenger(cfg *config.Config, db *store.DB, c codec.Codec, tr messenger.Transport,
	monitor *connectivity.Monitor, tracker *status.Tracker, editor *edit.Controller,
	asm *conversation.Assembler, b *bus.Bus, logger *zap.Logger) *messenger.Messenger {
	return messenger.New(cfg, db, c, tr, monitor, tracker, editor, asm, b, logger)
}

func providePoller(cfg *config.Config, asm *conversation.Assembler, db *store.DB, b *bus.Bus, logger *zap.Logger) *conversation.Poller {
	return conversation.NewPoller(asm, db, b, logger, cfg.PollInterval(), cfg.PollJitter())
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, m *messenger.Messenger,
	monitor *connectivity.Monitor, poller *conversation.Poller, db *store.DB,
	lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			monitor.Start(context.Background(), transport.AlwaysUp{}, probeInterval)
			m.Start(context.Background())
			for _, peer := range cfg.Poll.Watch {
				poller.Watch(context.Background(), cfg.Identity.UserID, peer)
				logger.Info("watching conversation", zap.String("peer", peer))
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			poller.Stop()
			m.Stop()
			monitor.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
