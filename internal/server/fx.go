// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/madara-crawler/internal/api"
	"github.com/JakeFAU/madara-crawler/internal/clock/system"
	"github.com/JakeFAU/madara-crawler/internal/config"
	"github.com/JakeFAU/madara-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/madara-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/madara-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/madara-crawler/internal/headless/detector"
	"github.com/JakeFAU/madara-crawler/internal/logging"
	"github.com/JakeFAU/madara-crawler/internal/merge"
	"github.com/JakeFAU/madara-crawler/internal/metrics"
	"github.com/JakeFAU/madara-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/madara-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/madara-crawler/internal/progress/sinks"
	"github.com/JakeFAU/madara-crawler/internal/publisher"
	memorypublisher "github.com/JakeFAU/madara-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/madara-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/madara-crawler/internal/queue"
	"github.com/JakeFAU/madara-crawler/internal/scheduler"
	"github.com/JakeFAU/madara-crawler/internal/settings"
	gcsstorage "github.com/JakeFAU/madara-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/madara-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/madara-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/madara-crawler/internal/storage/postgres"
	"github.com/JakeFAU/madara-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/madara-crawler/internal/store"
	"github.com/JakeFAU/madara-crawler/internal/telemetry"
)

// Version is stamped at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	store         store.Store
	storageClient *storage.Client
	pubsubClient  *pubsub.Client
	pubsubSender  *gcppublisher.Publisher
	headless      *headlessfetcher.Fetcher
	hub           *progress.Hub

	repo        *store.Repository
	settings    *settings.Provider
	queue       *queue.Queue
	sources     *crawler.Sources
	collections *crawler.CollectionCrawler
	units       *crawler.UnitCrawler
	dispatcher  *crawler.Dispatcher
	scheduler   *scheduler.Scheduler
	apiServer   *api.Server

	lifetime     context.Context
	stopLifetime context.CancelFunc
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Repository returns the catalog and journal repository.
func (a *App) Repository() *store.Repository { return a.repo }

// Settings returns the runtime settings provider.
func (a *App) Settings() *settings.Provider { return a.settings }

// Queue returns the work queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Sources returns the source registry.
func (a *App) Sources() *crawler.Sources { return a.sources }

// Collections returns the collection crawler.
func (a *App) Collections() *crawler.CollectionCrawler { return a.collections }

// Units returns the unit crawler.
func (a *App) Units() *crawler.UnitCrawler { return a.units }

// Dispatcher returns the queue executor.
func (a *App) Dispatcher() *crawler.Dispatcher { return a.dispatcher }

// Scheduler returns the periodic scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Observer returns the progress hub as a crawler.Observer.
func (a *App) Observer() *progress.Hub { return a.hub }

// Run serves the API and the scheduler loops until the context is canceled
// or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := a.queue.ResetProcessing(ctx); err != nil {
		a.logger.Warn("reset processing items failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("requeued items left processing by a previous run", zap.Int64("count", n))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			return a.scheduler.Run(a.lifetime)
		})
	} else {
		a.scheduler.Bind(a.lifetime)
		a.logger.Info("scheduler disabled; runs start only on demand")
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.stopLifetime()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	a.apiServer.Wait()
	a.scheduler.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(closeCtx)
	return err
}

// Close releases every resource Build opened. It is safe to call once after
// Run returns or in place of Run.
func (a *App) Close(ctx context.Context) {
	if a.stopLifetime != nil {
		a.stopLifetime()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	a.closeObservability(ctx)
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubSender != nil {
		a.pubsubSender.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.providers != nil {
		if err := a.providers.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	app.lifetime, app.stopLifetime = context.WithCancel(context.Background())
	ok := false
	defer func() {
		if !ok {
			app.Close(context.Background())
		}
	}()

	app.providers, err = telemetry.Init(ctx, telemetry.Config{
		Version:     Version,
		ProjectID:   cfg.Tracing.ProjectID,
		SampleRatio: cfg.Tracing.SampleRatio,
		Registerer:  prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	metrics.Init()

	logger.Info("building application dependencies",
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("publish", cfg.Publish.Backend),
	)

	if app.store, err = openStore(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	clock := system.New()
	app.repo = store.NewRepository(app.store, clock)
	app.settings = settings.NewProvider(cfg.Settings(), app.repo)

	if err = setupProgress(app); err != nil {
		return nil, err
	}

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	fetcher, err := setupFetcher(app)
	if err != nil {
		return nil, err
	}

	if err = setupQueue(app, clock); err != nil {
		return nil, err
	}

	deps := crawler.Deps{
		Catalog:   app.repo,
		Fetcher:   fetcher,
		Queue:     app.queue,
		Blobs:     blobs,
		Publisher: pub,
		Observer:  app.hub,
		Settings:  app.settings,
		Clock:     clock,
		Logger:    logger.Named("crawler"),
	}
	if cfg.Merge.Enabled {
		deps.Merger = merge.New(merge.Options{JPEGQuality: cfg.Merge.Quality}, logger.Named("merge"))
	}
	app.sources = crawler.NewSources(deps)
	app.collections = crawler.NewCollectionCrawler(deps)
	app.units = crawler.NewUnitCrawler(deps)
	app.dispatcher = crawler.NewDispatcher(app.repo, app.collections, app.units)

	app.scheduler = scheduler.New(scheduler.Deps{
		Catalog:  app.repo,
		Checker:  app.collections,
		Queue:    app.queue,
		Executor: app.dispatcher,
		Settings: app.settings,
		Runs:     app.hub,
		Observer: app.hub,
		Clock:    clock,
		Logger:   logger.Named("scheduler"),
	})

	app.apiServer = api.NewServer(api.Deps{
		Sources:     app.sources,
		Collections: app.collections,
		Units:       app.units,
		Catalog:     app.repo,
		Queue:       app.queue,
		Executor:    app.dispatcher,
		Runner:      app.scheduler,
		Settings:    app.settings,
		Journal:     app.repo,
		Ready: func(ctx context.Context) error {
			_, err := app.store.Count(ctx, store.Settings, nil)
			return err
		},
	}, api.Config{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		BaseContext:    app.lifetime,
	}, logger.Named("api"))

	ok = true
	return app, nil
}

// Migrate applies the schema for the configured database and reports the
// resulting version. SQLite databases migrate on open.
func Migrate(ctx context.Context, cfg config.DatabaseConfig) (uint, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := newPool(ctx, cfg)
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		version, _, err := pgstore.Migrate(pool)
		if err != nil {
			return 0, fmt.Errorf("migrate postgres: %w", err)
		}
		return version, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return 0, err
		}
		return 0, s.Close()
	default:
		return 0, nil
	}
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	return pgstore.NewPool(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := newPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		if cfg.AutoMigrate {
			version, dirty, err := pgstore.Migrate(pool)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
			logger.Info("postgres schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
		s, err := pgstore.NewStore(pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite init failed: %w", err)
		}
		logger.Info("sqlite store opened", zap.String("path", cfg.DSN))
		return s, nil
	default:
		logger.Warn("using in-memory store; nothing survives a restart")
		return memorystorage.NewStore(), nil
	}
}

func setupProgress(app *App) error {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("events")),
		progresssinks.NewStoreSink(app.repo, app.cfg.Logging.PersistDebug, app.logger.Named("journal")),
	}
	if app.cfg.Metrics.Enabled {
		promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	app.hub = progress.NewHub(progress.Config{
		Logger: app.logger.Named("progress_hub"),
	}, sinkList...)
	return nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		var err error
		app.storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.storageClient, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	topics := publisher.Topics{
		Collections: app.cfg.Publish.CollectionTopic,
		Units:       app.cfg.Publish.UnitTopic,
	}
	var sender publisher.Sender
	switch app.cfg.Publish.Backend {
	case "pubsub":
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.Publish.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubSender = gcppublisher.Open(app.pubsubClient, topics.Collections, topics.Units)
		sender = app.pubsubSender
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.Publish.ProjectID),
			zap.String("collection_topic", topics.Collections),
			zap.String("unit_topic", topics.Units),
		)
	case "memory":
		sender = memorypublisher.New()
	default:
		return nil, nil
	}
	pub, err := publisher.New(sender, topics)
	if err != nil {
		return nil, fmt.Errorf("publisher init failed: %w", err)
	}
	return pub, nil
}

func setupFetcher(app *App) (crawler.Fetcher, error) {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.HTTP.RatePerSecond,
		DefaultBurst: app.cfg.HTTP.Burst,
		HostRPS:      app.cfg.HTTP.HostRates,
	})
	primary := collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.HTTP.UserAgent,
		Timeout:       app.cfg.FetchTimeout(),
		MaxBodyBytes:  app.cfg.HTTP.MaxBodyBytes,
		RespectRobots: app.cfg.HTTP.RespectRobots,
	}, collyfetcher.WithLimiter(limiter))
	app.logger.Info("using colly fetcher", zap.String("user_agent", app.cfg.HTTP.UserAgent))
	if !app.cfg.Headless.Enabled {
		return primary, nil
	}

	var err error
	app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
	}, limiter)
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	app.logger.Info("headless fallback enabled",
		zap.Int("max_parallel", app.cfg.Headless.MaxParallel),
		zap.Int("promotion_threshold", app.cfg.Headless.PromotionThreshold),
	)
	return crawler.NewFallbackFetcher(
		primary,
		app.headless,
		detector.NewHeuristic(app.cfg.Headless.PromotionThreshold),
		app.logger.Named("fetch"),
	), nil
}

func setupQueue(app *App, clock crawler.Clock) error {
	mode, err := queue.ParseAttemptMode(app.cfg.Queue.AttemptMode)
	if err != nil {
		return fmt.Errorf("queue init failed: %w", err)
	}
	opts := []queue.Option{
		queue.WithClock(clock),
		queue.WithAttemptMode(mode),
		queue.WithObserver(app.hub),
	}
	if app.cfg.Queue.RetryBackoffSeconds > 0 {
		base := time.Duration(app.cfg.Queue.RetryBackoffSeconds) * time.Second
		opts = append(opts, queue.WithBackoff(queue.NewExponentialBackoff(base, 32*base)))
	}
	app.queue = queue.New(app.store, app.settings, opts...)
	return nil
}
