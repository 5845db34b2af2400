// Package runtime wires the interactions gateway together and owns its
// lifecycle: the signed webhook endpoint, the dispatch queue, the worker pool
// and the supporting catalog watcher, scheduler, storage and telemetry.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tjfontaine/interactions-gateway/internal/commands"
	"github.com/tjfontaine/interactions-gateway/internal/config"
	"github.com/tjfontaine/interactions-gateway/internal/controlplane"
	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/dispatch"
	"github.com/tjfontaine/interactions-gateway/internal/frontdoor/interactions"
	"github.com/tjfontaine/interactions-gateway/internal/registration"
	"github.com/tjfontaine/interactions-gateway/internal/responses"
	"github.com/tjfontaine/interactions-gateway/internal/server"
	"github.com/tjfontaine/interactions-gateway/internal/signature"
	"github.com/tjfontaine/interactions-gateway/internal/storage"
	"github.com/tjfontaine/interactions-gateway/internal/storage/memory"
	"github.com/tjfontaine/interactions-gateway/internal/storage/sqldb"
	"github.com/tjfontaine/interactions-gateway/internal/telemetry"
	"github.com/tjfontaine/interactions-gateway/internal/worker"
)

const (
	provisionTimeout = 30 * time.Second
	sweepSchedule    = "@every 1m"
)

// DiscordAPI is everything the gateway needs from Discord's REST API.
type DiscordAPI interface {
	worker.Deliverer
	registration.API
}

// Gateway is the running service.
type Gateway struct {
	// Dependencies (injected via options)
	cfg       *config.Config
	logger    *slog.Logger
	discord   DiscordAPI
	store     storage.DeliveryStore
	ownsStore bool
	listener  net.Listener

	// Components built by Start
	registry       *responses.Registry
	queue          *dispatch.Queue
	pool           *worker.Pool
	guard          *interactions.ReplayGuard
	metrics        *telemetry.Metrics
	watcher        *commands.Watcher
	scheduler      *cron.Cron
	server         *server.Server
	tracerShutdown func(context.Context) error
	serveErr       chan error

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// New creates a Gateway. A configuration is required (WithConfig or
// WithConfigFile) and must validate.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger:    slog.Default(),
		ownsStore: true,
		serveErr:  make(chan error, 1),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, errors.New("config required (use WithConfig or WithConfigFile)")
	}
	if err := gw.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return gw, nil
}

// Start builds every component and begins serving. Startup provisioning
// failures are logged and do not prevent serving.
func (g *Gateway) Start(ctx context.Context) (err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New("gateway already started")
	}

	g.ctx, g.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			g.cleanup(context.Background())
		}
	}()
	cfg := g.cfg

	table, err := loadCatalog(cfg.Commands.Path, g.logger)
	if err != nil {
		return err
	}
	g.registry = responses.NewRegistry(table)

	key, err := signature.ParsePublicKey(cfg.Discord.PublicKey)
	if err != nil {
		return fmt.Errorf("discord public key: %w", err)
	}
	verifier := signature.NewVerifier(key, signature.WithMaxSkew(cfg.Discord.MaxTimestampSkew))

	g.queue, err = dispatch.New(dispatch.Options{
		Capacity:       cfg.Workers.QueueCapacity,
		Overflow:       dispatch.Overflow(cfg.Workers.Overflow),
		EnqueueTimeout: cfg.Workers.EnqueueTimeout,
	})
	if err != nil {
		return fmt.Errorf("create dispatch queue: %w", err)
	}

	if cfg.Telemetry.Metrics {
		queue := g.queue
		g.metrics = telemetry.NewMetrics(func() float64 { return float64(queue.Len()) })
		g.metrics.CatalogLoaded(table.Len())
	}
	if cfg.Telemetry.Tracing {
		g.tracerShutdown, err = telemetry.InitTracer(cfg.Telemetry.ServiceName, g.logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
	}

	if g.store == nil {
		g.store, err = openStore(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open delivery store: %w", err)
		}
	}

	if g.discord == nil {
		g.discord = newDiscordClient(cfg)
	}

	poolOpts := []worker.Option{worker.WithLogger(g.logger), worker.WithMetrics(g.metrics)}
	if g.store != nil {
		poolOpts = append(poolOpts, worker.WithStore(g.store))
	}
	g.pool, err = worker.New(worker.Config{
		Size:            cfg.Workers.Count,
		MaxRetries:      cfg.Workers.MaxRetries,
		RetryBackoff:    cfg.Workers.RetryBackoff,
		MaxBackoff:      cfg.Workers.MaxBackoff,
		DeliveryTimeout: cfg.Workers.DeliveryTimeout,
		UnknownCommand:  worker.UnknownCommandPolicy(cfg.Workers.UnknownCommand),
		FallbackMessage: cfg.Workers.FallbackMessage,
	}, g.queue, g.registry, g.discord, poolOpts...)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	if err := g.pool.Start(g.ctx); err != nil {
		return err
	}

	if cfg.Discord.RegisterCommands && cfg.ValidateRegistration() != nil {
		g.logger.Warn("discord.bot_token not set; skipping command registration")
	} else if cfg.Discord.RegisterCommands {
		provCtx, cancel := context.WithTimeout(g.ctx, provisionTimeout)
		if _, err := registration.Register(provCtx, g.discord, cfg.Discord.ApplicationID, table, g.logger); err != nil {
			g.logger.Error("command registration failed; continuing to serve",
				slog.String("error", err.Error()))
		}
		cancel()
	}

	if cfg.Commands.Watch {
		if err := g.startWatcher(); err != nil {
			return err
		}
	}

	g.guard = interactions.NewReplayGuard(cfg.Discord.ReplayWindow)
	if err := g.startScheduler(); err != nil {
		return err
	}

	if err := g.startServer(verifier); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	g.started = true
	g.logger.Info("gateway started",
		slog.String("addr", g.listener.Addr().String()),
		slog.Int("commands", table.Len()),
		slog.Int("workers", g.pool.Size()),
		slog.String("storage", cfg.Storage.Type),
	)
	return nil
}

func loadCatalog(path string, logger *slog.Logger) (*responses.Table, error) {
	created, err := commands.EnsureFile(path)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Warn("command catalog not found; created an empty one", slog.String("path", path))
	}
	table, err := commands.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load command catalog: %w", err)
	}
	return table, nil
}

func openStore(cfg config.StorageConfig) (storage.DeliveryStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sql":
		store, err := sqldb.New(sqldb.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func (g *Gateway) startWatcher() error {
	w, err := commands.NewWatcher(g.cfg.Commands.Path, g.registry,
		commands.WithLogger(g.logger),
		commands.OnChange(func(t *responses.Table) {
			g.metrics.CatalogLoaded(t.Len())
			if g.cfg.Discord.RegisterCommands {
				g.logger.Info("command catalog changed; run the register command to update Discord",
					slog.Int("commands", t.Len()))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := w.Start(g.ctx); err != nil {
		return fmt.Errorf("start catalog watcher: %w", err)
	}
	g.watcher = w
	return nil
}

func (g *Gateway) startScheduler() error {
	g.scheduler = cron.New()

	if g.store != nil && g.cfg.Storage.Retention > 0 {
		store, retention := g.store, g.cfg.Storage.Retention
		if _, err := g.scheduler.AddFunc(g.cfg.Storage.PruneSchedule, func() {
			removed, err := store.PruneBefore(g.ctx, time.Now().Add(-retention))
			if err != nil {
				g.logger.Error("delivery log prune failed", slog.String("error", err.Error()))
				return
			}
			g.logger.Debug("delivery log pruned", slog.Int64("removed", removed))
		}); err != nil {
			return fmt.Errorf("schedule delivery log prune: %w", err)
		}
	}

	guard := g.guard
	if _, err := g.scheduler.AddFunc(sweepSchedule, func() {
		if removed := guard.Sweep(); removed > 0 {
			g.logger.Debug("replay guard swept", slog.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("schedule replay sweep: %w", err)
	}

	g.scheduler.Start()
	return nil
}

func (g *Gateway) startServer(verifier *signature.Verifier) error {
	cfg := g.cfg
	handler, err := interactions.NewHandler(verifier, g.queue,
		interactions.WithLogger(g.logger),
		interactions.WithMetrics(g.metrics),
		interactions.WithReplayGuard(g.guard),
		interactions.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	if err != nil {
		return err
	}

	g.server = server.New(server.Options{
		Addr:           cfg.Server.Addr(),
		RequestTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		Tracing:        cfg.Telemetry.Tracing,
		ServiceName:    cfg.Telemetry.ServiceName,
	}, g.logger)

	handler.Mount(g.server.Router)
	g.server.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if g.metrics != nil {
		g.server.Router.Handle("/metrics", g.metrics.Handler())
	}
	if cfg.Server.Admin {
		g.server.Router.Mount("/admin", controlplane.NewServer(controlplane.Options{
			Store:      g.store,
			Catalog:    g.registry,
			QueueDepth: g.queue.Len,
			Workers:    g.pool.Size(),
		}))
		g.logger.Info("registered control plane", slog.String("path", "/admin"))
	}

	if g.listener == nil {
		ln, err := net.Listen("tcp", cfg.Server.Addr())
		if err != nil {
			return err
		}
		g.listener = ln
	}

	go func() {
		if err := g.server.Serve(g.listener); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
			g.serveErr <- err
		}
	}()
	return nil
}

// Errors reports a fatal serve error. It never receives after a clean shutdown.
func (g *Gateway) Errors() <-chan error {
	return g.serveErr
}

// Addr returns the address the endpoint is listening on, once started.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Store returns the delivery store, or nil when storage.type is none.
func (g *Gateway) Store() storage.DeliveryStore {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.store
}

// Registry returns the live response table registry.
func (g *Gateway) Registry() *responses.Registry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry
}

// Shutdown stops accepting requests, lets the workers drain the queue until
// ctx expires, then cancels whatever is still in flight and releases
// resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return nil
	}
	g.started = false
	g.logger.Info("shutting down gateway")
	return g.cleanup(ctx)
}

func (g *Gateway) cleanup(ctx context.Context) error {
	var errs []error

	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	} else if g.listener != nil {
		g.listener.Close()
	}

	if g.queue != nil {
		g.queue.Close()
	}
	if g.pool != nil {
		if err := g.pool.Wait(ctx); err != nil {
			g.logger.Warn("worker drain deadline exceeded; cancelling in-flight deliveries",
				slog.Int("pending", g.queue.Len()))
			g.cancel()
			drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := g.pool.Wait(drainCtx); err != nil {
				errs = append(errs, fmt.Errorf("wait for workers: %w", err))
			}
			cancel()
		}
	}
	if g.cancel != nil {
		g.cancel()
	}

	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog watcher: %w", err))
		}
	}
	if g.scheduler != nil {
		select {
		case <-g.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	if g.store != nil && g.ownsStore {
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close delivery store: %w", err))
		}
	}
	if g.tracerShutdown != nil {
		if err := g.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Provision registers the catalog at cfg.Commands.Path with Discord and
// returns the application id used. It backs the one-shot register command.
func Provision(ctx context.Context, cfg *config.Config, api registration.API, logger *slog.Logger) (string, error) {
	if err := cfg.ValidateRegistration(); err != nil {
		return "", err
	}
	if logger == nil {
		logger = slog.Default()
	}
	table, err := loadCatalog(cfg.Commands.Path, logger)
	if err != nil {
		return "", err
	}
	if api == nil {
		api = newDiscordClient(cfg)
	}
	return registration.Register(ctx, api, cfg.Discord.ApplicationID, table, logger)
}

func newDiscordClient(cfg *config.Config) *discord.Client {
	opts := []discord.ClientOption{
		discord.WithBaseURL(cfg.Discord.APIBaseURL),
		discord.WithTimeout(cfg.Workers.DeliveryTimeout),
	}
	if cfg.Discord.DenyPrivateNetworks {
		opts = append(opts, discord.WithPublicNetworksOnly())
	}
	return discord.NewClient(cfg.Discord.BotToken, opts...)
}
