package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/buildinfo"
	"github.com/xelth-com/ocnnode/internal/config"
	"github.com/xelth-com/ocnnode/internal/credentials"
	"github.com/xelth-com/ocnnode/internal/database"
	"github.com/xelth-com/ocnnode/internal/events"
	"github.com/xelth-com/ocnnode/internal/forwarder"
	"github.com/xelth-com/ocnnode/internal/handlers"
	"github.com/xelth-com/ocnnode/internal/httpclient"
	"github.com/xelth-com/ocnnode/internal/identity"
	"github.com/xelth-com/ocnnode/internal/logging"
	"github.com/xelth-com/ocnnode/internal/metrics"
	"github.com/xelth-com/ocnnode/internal/registry"
	"github.com/xelth-com/ocnnode/internal/routing"
	"github.com/xelth-com/ocnnode/internal/scheduler"
	"github.com/xelth-com/ocnnode/internal/store"
	"github.com/xelth-com/ocnnode/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	app := fx.New(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			provideMetrics,
			provideStore,
			provideSigner,
			provideRegistry,
			provideHTTPClient,
			provideWorkerPool,
			provideEvents,
			provideRouting,
			provideForwarder,
			provideCredentials,
			provideRouter,
		),
		fx.Invoke(runScheduler, runServer),
	)
	app.Run()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New(nil)
}

// provideStore opens PostgreSQL (embedded when unconfigured) or falls back
// to the in-memory store.
func provideStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*store.Store, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("Using in-memory store, state is lost on restart")
		return store.NewMemory(), nil
	}
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return store.NewGorm(db.DB), nil
}

func provideSigner(cfg *config.Config, log *zap.Logger) (*identity.Signer, error) {
	signer, err := identity.LoadOrGenerate(cfg.SignerKey, cfg.SignerKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load signer: %w", err)
	}
	log.Info("Node identity loaded", zap.String("address", signer.Address()), zap.String("url", cfg.PublicURL))
	return signer, nil
}

func provideRegistry(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *registry.Holder {
	var source registry.Source
	if cfg.Registry.File != "" {
		source = registry.FileSource{Path: cfg.Registry.File}
	} else {
		source = registry.HTTPSource{URL: cfg.Registry.URL, Client: &http.Client{Timeout: cfg.HTTPTimeout}}
	}
	holder := registry.NewHolder(source, cfg.Registry.MissTTL, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			snap, err := holder.Refresh(ctx)
			if err != nil {
				// the node can start empty and catch up on the next refresh
				log.Error("Initial registry load failed", zap.Error(err))
				return nil
			}
			log.Info("Registry loaded", zap.Int("parties", snap.Len()))
			return nil
		},
	})
	return holder
}

func provideHTTPClient(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *httpclient.Client {
	return httpclient.New(httpclient.NewHTTPClient(cfg.HTTPTimeout, m.InstrumentTransport), log)
}

func provideWorkerPool(lc fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *worker.Pool {
	pool := worker.New(cfg.Workers, cfg.WorkerQueue, m, log)
	lc.Append(fx.Hook{OnStop: pool.Stop})
	return pool
}

func provideEvents(lc fx.Lifecycle, log *zap.Logger) *events.Hub {
	hub := events.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return hub
}

func provideRouting(cfg *config.Config, st *store.Store, holder *registry.Holder, signer *identity.Signer, m *metrics.Metrics, log *zap.Logger) *routing.Service {
	return routing.New(st, holder, signer, cfg.PublicURL, m, log)
}

func provideForwarder(cfg *config.Config, rt *routing.Service, st *store.Store, client *httpclient.Client, pool *worker.Pool, hub *events.Hub, m *metrics.Metrics, log *zap.Logger) *forwarder.Engine {
	return forwarder.New(forwarder.Config{SignaturesRequired: cfg.SignaturesRequired}, rt, st, client, pool, hub, m, log)
}

func provideCredentials(cfg *config.Config, st *store.Store, client *httpclient.Client, log *zap.Logger) *credentials.Service {
	return credentials.New(credentials.Config{
		PublicURL: cfg.PublicURL,
		Secret:    []byte(cfg.AdminKey),
		TokenTTL:  cfg.Hub.TokenTTL,
		Hub:       cfg.Hub.Role,
		HubName:   cfg.Hub.Name,
	}, st, client, log)
}

func provideRouter(cfg *config.Config, fw *forwarder.Engine, rt *routing.Service, creds *credentials.Service, st *store.Store, hub *events.Hub, m *metrics.Metrics, log *zap.Logger) *handlers.Router {
	return handlers.NewRouter(handlers.Deps{
		Forwarder:   fw,
		Routing:     rt,
		Credentials: creds,
		Store:       st,
		Events:      hub,
		Metrics:     m,
		AdminKey:    cfg.AdminKey,
		Log:         log,
	})
}

// runScheduler registers the background tasks and ties them to the app
// lifecycle.
func runScheduler(lc fx.Lifecycle, cfg *config.Config, st *store.Store, holder *registry.Holder, rt *routing.Service, client *httpclient.Client, m *metrics.Metrics, log *zap.Logger) {
	sched := scheduler.New(nil, m, log)
	sched.Add("registry-refresh", cfg.Registry.Refresh, func(ctx context.Context) error {
		_, err := holder.Refresh(ctx)
		return err
	})
	sched.Add("liveness", cfg.Scheduler.Liveness, scheduler.NewLiveness(st, client, time.Now, log).Run)
	sched.Add("discovery", cfg.Scheduler.Discovery, scheduler.NewDiscovery(st, holder, rt.Self(), log).Run)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sched.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			sched.Wait()
			return nil
		},
	})
}

func runServer(lc fx.Lifecycle, cfg *config.Config, router *handlers.Router, log *zap.Logger) {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			log.Info("OCN node listening",
				zap.String("addr", server.Addr),
				zap.String("public_url", cfg.PublicURL),
				zap.String("version", buildinfo.Version))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
