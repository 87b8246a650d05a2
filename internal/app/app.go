// Package app builds the pricewatch object graph from configuration and runs
// the HTTP server and refresh scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/pricewatch/internal/api"
	"github.com/JakeFAU/pricewatch/internal/clock/system"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/events"
	"github.com/JakeFAU/pricewatch/internal/hash/sha256"
	"github.com/JakeFAU/pricewatch/internal/id/uuid"
	"github.com/JakeFAU/pricewatch/internal/logging"
	"github.com/JakeFAU/pricewatch/internal/monitor"
	memorypublisher "github.com/JakeFAU/pricewatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pricewatch/internal/publisher/pubsub"
	chromedprenderer "github.com/JakeFAU/pricewatch/internal/renderer/chromedp"
	staticrenderer "github.com/JakeFAU/pricewatch/internal/renderer/static"
	"github.com/JakeFAU/pricewatch/internal/sandbox"
	gcsstorage "github.com/JakeFAU/pricewatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pricewatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/pricewatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/pricewatch/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/pricewatch/internal/storage/sqlite"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

const readHeaderTimeout = 5 * time.Second

// Store is the persistence surface every storage backend provides.
type Store interface {
	watchlist.ItemStore
	watchlist.RoutineStore
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	monitor   *monitor.Service
	scheduler *monitor.Scheduler
	apiServer *api.Server
	hub       *events.Hub
	broker    *events.Broker

	store         Store
	closeStore    func() error
	blobs         watchlist.BlobStore
	gcsBlobs      *gcsstorage.BlobStore
	chrome        *chromedprenderer.Renderer
	pubsubClient  *pubsub.Client
	gcpPublisher  *gcppublisher.Publisher
	memPublisher  *memorypublisher.Publisher
	ownsLogger    bool
	shutdownGrace time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies. logger may be nil, in which
// case one is built from cfg.Logging.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app = &App{cfg: cfg, logger: logger, shutdownGrace: cfg.Server.ShutdownTimeout}
	if app.logger == nil {
		app.logger, err = buildLogger(cfg)
		if err != nil {
			return nil, err
		}
		app.ownsLogger = true
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
			app = nil
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return app, err
	}
	clock := system.NewIn(loc)
	app.logger.Info("building application dependencies",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("renderer", cfg.Renderer.Backend),
		zap.String("screenshots", cfg.Screenshots.Backend),
		zap.String("timezone", loc.String()),
	)

	if err = app.setupStore(ctx); err != nil {
		return app, err
	}
	if err = app.setupScreenshots(ctx); err != nil {
		return app, err
	}
	renderer, err := app.setupRenderer()
	if err != nil {
		return app, err
	}
	if err = app.setupEvents(ctx); err != nil {
		return app, err
	}

	executor := sandbox.New(sandbox.Config{
		Timeout:          cfg.Sandbox.Timeout,
		CacheSize:        cfg.Sandbox.ProgramCacheSize,
		ScreenshotPrefix: cfg.Screenshots.Prefix,
		Location:         loc,
	}, sha256.New(), app.blobs, clock, app.logger.Named("sandbox"))

	app.monitor = monitor.New(
		app.store,
		app.store,
		renderer,
		executor,
		app.hub,
		clock,
		monitor.Config{BulkConcurrency: cfg.Monitor.BulkConcurrency, Location: loc},
		app.logger.Named("monitor"),
	)
	app.scheduler = monitor.NewScheduler(app.monitor, cfg.Monitor.Interval, app.logger.Named("scheduler"))

	var ready api.Pinger
	if p, ok := app.store.(api.Pinger); ok {
		ready = p
	}
	app.apiServer = api.NewServer(app.monitor, app.broker, ready, cfg, app.logger.Named("api"))
	return app, nil
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Monitor exposes the monitoring operations for CLI commands.
func (a *App) Monitor() *monitor.Service {
	return a.monitor
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and runs the scheduler until ctx is canceled or a signal
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := a.shutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedulerDone

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every dependency. Refresh events still queued are flushed
// to their sinks first. Calling Close more than once is a no-op.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close(ctx)
	})
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event hub: %w", err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.chrome != nil {
		a.chrome.Close()
	}
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
	} else {
		a.logger.Info("shutdown complete")
	}
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return err
}

func (a *App) setupStore(ctx context.Context) error {
	idGen := uuid.NewUUIDGenerator()
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.DB.DSN,
			ItemsTable:      a.cfg.DB.ItemsTable,
			RoutinesTable:   a.cfg.DB.RoutinesTable,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		}, idGen)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.closeStore = func() error {
			store.Close()
			return nil
		}
		if a.cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		a.logger.Info("postgres store initialized", zap.String("items_table", a.cfg.DB.ItemsTable))
	case config.BackendMemory:
		a.store = memorystorage.NewStore(idGen)
		a.logger.Warn("using in-memory store; the watchlist is lost on exit")
	default:
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:              a.cfg.SQLite.Path,
			BusyTimeoutMillis: a.cfg.SQLite.BusyTimeoutMs,
		}, idGen)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.closeStore = store.Close
		a.logger.Info("sqlite store initialized", zap.String("path", a.cfg.SQLite.Path))
	}
	return nil
}

func (a *App) setupScreenshots(ctx context.Context) error {
	switch a.cfg.Screenshots.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{
			Bucket: a.cfg.Screenshots.GCS.Bucket,
			Prefix: a.cfg.Screenshots.GCS.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsBlobs = store
		a.blobs = store
		a.logger.Info("using GCS screenshot storage", zap.String("bucket", a.cfg.Screenshots.GCS.Bucket))
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Screenshots.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local screenshot storage", zap.String("path", a.cfg.Screenshots.Local.BaseDir))
	case config.BackendNone:
		a.logger.Info("screenshots disabled")
	default:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory screenshot storage")
	}
	return nil
}

func (a *App) setupRenderer() (watchlist.Renderer, error) {
	if a.cfg.Renderer.Backend == config.BackendStatic {
		a.logger.Info("using static renderer", zap.String("user_agent", a.cfg.Renderer.UserAgent))
		return staticrenderer.New(staticrenderer.Config{
			UserAgent: a.cfg.Renderer.UserAgent,
			Timeout:   a.cfg.Renderer.NavTimeout,
		}), nil
	}
	renderer, err := chromedprenderer.New(chromedprenderer.Config{
		MaxParallel:       a.cfg.Renderer.MaxParallel,
		UserAgent:         a.cfg.Renderer.UserAgent,
		NavigationTimeout: a.cfg.Renderer.NavTimeout,
		ViewportWidth:     a.cfg.Renderer.ViewportWidth,
		ViewportHeight:    a.cfg.Renderer.ViewportHeight,
		ExecPath:          a.cfg.Renderer.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("chromedp renderer init failed: %w", err)
	}
	a.chrome = renderer
	a.logger.Info("using chromedp renderer", zap.Int("max_parallel", a.cfg.Renderer.MaxParallel))
	return renderer, nil
}

func (a *App) setupEvents(ctx context.Context) error {
	a.broker = events.NewBroker(0, a.logger.Named("events_stream"))
	sinks := []events.Sink{
		events.NewLogSink(a.logger.Named("events_log")),
		a.broker,
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	sinks = append(sinks, events.NewPublisherSink(publisher, a.cfg.PubSub.TopicName))

	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Events.MaxBatchWait,
		Logger:         a.logger.Named("events_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinks...)
	a.logger.Info("event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (watchlist.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.memPublisher = memorypublisher.New()
		return a.memPublisher, nil
	}
	var opts []option.ClientOption
	if host := a.cfg.PubSub.EmulatorHost; host != "" {
		conn, err := grpc.NewClient(host, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("pubsub emulator dial failed: %w", err)
		}
		opts = append(opts, option.WithGRPCConn(conn))
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.gcpPublisher, err = gcppublisher.New(a.pubsubClient, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.gcpPublisher, nil
}
