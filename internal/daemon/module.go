package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/petadopt/petchat/internal/auth"
	"github.com/petadopt/petchat/internal/bus"
	"github.com/petadopt/petchat/internal/config"
	"github.com/petadopt/petchat/internal/events"
	"github.com/petadopt/petchat/internal/fanout"
	"github.com/petadopt/petchat/internal/httpapi"
	"github.com/petadopt/petchat/internal/instance"
	"github.com/petadopt/petchat/internal/lock"
	"github.com/petadopt/petchat/internal/logging"
	"github.com/petadopt/petchat/internal/messaging"
	"github.com/petadopt/petchat/internal/presence"
	"github.com/petadopt/petchat/internal/realtime"
	"github.com/petadopt/petchat/internal/store"
	"github.com/petadopt/petchat/internal/store/mongostore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	ConfigPath   string // optional override; empty = ~/.petchat/config.toml
	SocketPath   string // optional override for testing; empty = use default
	Config       *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideDelivery,
			providePusher,
			provideConversationService,
			provideMessageService,
			provideVerifier,
			provideRealtime,
			provideHTTPServer,
			provideAdminServer,
			provideForwarder,
		),
		fx.Invoke(registerLifecycle),
	)
}

// provideConfig loads the config file and .env overrides. Params.Config
// short-circuits loading.
func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	if err := config.LoadEnvFiles(".env", instance.EnvPath()); err != nil {
		return nil, err
	}
	path := p.ConfigPath
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := instance.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	return logging.New(instance.LogPath(p.InstanceName), p.InstanceName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideLock takes the instance lock for the sqlite driver. Mongo-backed
// instances may run side by side and get a nil lock.
func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if cfg.Store.Driver != "sqlite" {
		return nil, nil
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(instance.Dir(p.InstanceName))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, cfg *config.Config, logger *zap.Logger, _ *lock.Lock) (store.Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		st, err := mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("driver", "mongo"), zap.String("database", cfg.Store.MongoDB))
		return st, nil
	default:
		dbPath := instance.DBPath(p.InstanceName, cfg.Store.Path)
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
		logger.Info("store initialized", zap.String("driver", "sqlite"), zap.String("path", dbPath))
		return db, nil
	}
}

func provideRegistry(logger *zap.Logger) *presence.Registry {
	return presence.NewRegistry(logger.Named("presence"))
}

// delivery is the configured push path plus the hooks that run it.
type delivery struct {
	pusher messaging.Pusher
	start  func(ctx context.Context) error
	stop   func() error
}

func provideDelivery(p Params, cfg *config.Config, registry *presence.Registry, logger *zap.Logger) (*delivery, error) {
	origin := fmt.Sprintf("%s-%d-%s", p.InstanceName, os.Getpid(), uuid.NewString()[:8])
	log := logger.Named("fanout")

	switch cfg.Delivery.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Delivery.RedisAddr})
		r := fanout.NewRedis(client, cfg.Delivery.Channel, origin, registry, log)
		return &delivery{
			pusher: r,
			start:  r.Start,
			stop: func() error {
				err := r.Stop()
				_ = client.Close()
				return err
			},
		}, nil
	case "nats":
		conn, err := fanout.DialNATS(cfg.Delivery.NatsURL, "petchatd-"+p.InstanceName)
		if err != nil {
			return nil, err
		}
		n := fanout.NewNATS(conn, cfg.Delivery.Channel, origin, registry, log)
		return &delivery{
			pusher: n,
			start:  n.Start,
			stop: func() error {
				err := n.Stop()
				conn.Close()
				return err
			},
		}, nil
	default:
		return &delivery{
			pusher: registry,
			start:  func(context.Context) error { return nil },
			stop:   func() error { return nil },
		}, nil
	}
}

func providePusher(d *delivery) messaging.Pusher {
	return d.pusher
}

func serviceOptions(cfg *config.Config) messaging.Options {
	return messaging.Options{OpTimeout: cfg.Store.OpTimeout.Duration}
}

func provideConversationService(cfg *config.Config, st store.Store, pusher messaging.Pusher, b *bus.Bus, logger *zap.Logger) *messaging.ConversationService {
	return messaging.NewConversationService(st, pusher, b, logger.Named("conversations"), serviceOptions(cfg))
}

func provideMessageService(cfg *config.Config, st store.Store, pusher messaging.Pusher, b *bus.Bus, logger *zap.Logger) *messaging.MessageService {
	return messaging.NewMessageService(st, pusher, b, logger.Named("messages"), serviceOptions(cfg))
}

func provideVerifier(cfg *config.Config) (*auth.Verifier, error) {
	return auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

func provideRealtime(cfg *config.Config, v *auth.Verifier, registry *presence.Registry, b *bus.Bus, logger *zap.Logger) *realtime.Handler {
	return realtime.NewHandler(v, registry, b, logger.Named("realtime"), realtime.Options{
		AuthTimeout:    cfg.Realtime.AuthTimeout.Duration,
		SendBuffer:     cfg.Realtime.SendBuffer,
		PingInterval:   cfg.Realtime.PingInterval.Duration,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
}

func provideHTTPServer(
	cfg *config.Config,
	convs *messaging.ConversationService,
	msgs *messaging.MessageService,
	v *auth.Verifier,
	rt *realtime.Handler,
	st store.Store,
	logger *zap.Logger,
) *httpapi.Server {
	router := httpapi.NewRouter(httpapi.Deps{
		Conversations: convs,
		Messages:      msgs,
		Verifier:      v,
		Realtime:      rt,
		Health:        st,
		Logger:        logger.Named("http"),
	}, httpapi.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		SendPerSecond:  cfg.Limits.SendPerSecond,
		SendBurst:      cfg.Limits.SendBurst,
	})
	return httpapi.NewServer(cfg.HTTP.Addr, router, logger)
}

func provideAdminServer(p Params, logger *zap.Logger) (*AdminServer, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = instance.SocketPath(p.InstanceName)
	}
	return NewAdminServer(socketPath, logger)
}

// provideForwarder returns nil when the Kafka event stream is disabled.
func provideForwarder(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *events.Forwarder {
	if !cfg.Events.Enabled {
		return nil
	}
	w := events.NewKafkaWriter(cfg.Events.Brokers, cfg.Events.Topic)
	return events.NewForwarder(w, b, logger.Named("events"))
}

const storeWatchInterval = 10 * time.Second

type lifecycleParams struct {
	fx.In

	HTTP      *httpapi.Server
	Admin     *AdminServer
	Delivery  *delivery
	Forwarder *events.Forwarder
	Registry  *presence.Registry
	Store     store.Store
	Lock      *lock.Lock
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	watchCtx, stopWatch := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Start admin server in background.
			go func() {
				if err := lp.Admin.Start(); err != nil {
					logger.Error("admin server error", zap.Error(err))
				}
			}()

			if err := lp.Delivery.start(ctx); err != nil {
				return fmt.Errorf("start delivery: %w", err)
			}
			lp.Admin.SetServing(ServiceDelivery, true)

			if lp.Forwarder != nil {
				lp.Forwarder.Start(context.Background())
			}

			if err := lp.Store.Ping(ctx); err != nil {
				return fmt.Errorf("store ping: %w", err)
			}
			lp.Admin.SetServing(ServiceStore, true)
			go lp.Admin.WatchStore(watchCtx, lp.Store, storeWatchInterval)

			ln, err := lp.HTTP.Listen()
			if err != nil {
				return err
			}
			go func() {
				if err := lp.HTTP.Serve(ln); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()

			lp.Admin.SetServing("", true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lp.Admin.SetServing("", false)
			if err := lp.HTTP.Stop(ctx); err != nil {
				logger.Warn("error stopping HTTP server", zap.Error(err))
			}
			if n := lp.Registry.CloseAll(); n > 0 {
				logger.Info("closed realtime connections", zap.Int("count", n))
			}
			if err := lp.Delivery.stop(); err != nil {
				logger.Warn("error stopping delivery", zap.Error(err))
			}
			if lp.Forwarder != nil {
				lp.Forwarder.Stop()
			}
			stopWatch()
			lp.Admin.Stop(ctx)
			if err := lp.Store.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
