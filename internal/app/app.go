// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mohfw-pdf-crawler/internal/api"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/crawler"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/publisher/memory"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/storage/gcs"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/storage/local"
	memstore "github.com/JakeFAU/mohfw-pdf-crawler/internal/storage/memory"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services for one crawl run: the document
// store, the optional catalog and publisher, and the crawl configuration.
type App struct {
	cfg    crawler.Config
	v      *viper.Viper
	logger *zap.Logger
	runID  string

	store     crawler.BlobStore
	catalog   *postgres.Catalog
	publisher crawler.Publisher
	closers   []func() error
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the validated crawl configuration.
func (a *App) Config() crawler.Config {
	return a.cfg
}

// NewApp reads configuration values from v and instantiates the configured
// providers. It fails fast if any enabled service cannot be initialized.
func NewApp(ctx context.Context, v *viper.Viper, logger *zap.Logger, runID string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := crawler.LoadConfig(v)
	if err != nil {
		return nil, fmt.Errorf("load crawler config: %w", err)
	}
	a := &App{cfg: cfg, v: v, logger: logger, runID: runID}
	logger.Info("Initializing application services...")

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initCatalog(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch provider := a.v.GetString("storage.provider"); provider {
	case "", "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.ArchiveDir})
		if err != nil {
			return fmt.Errorf("failed to initialize local storage: %w", err)
		}
		a.logger.Info("Using local storage provider", zap.String("dir", a.cfg.ArchiveDir))
		a.store = store
	case "memory":
		a.logger.Info("Using in-memory storage provider; documents are discarded at exit")
		a.store = memstore.New()
	case "gcs":
		bucket := a.v.GetString("storage.gcs.bucket")
		if bucket == "" {
			return fmt.Errorf("storage provider is 'gcs' but storage.gcs.bucket is not set")
		}
		store, err := gcs.Open(ctx, gcs.Config{Bucket: bucket, Prefix: a.v.GetString("storage.gcs.prefix")})
		if err != nil {
			return fmt.Errorf("failed to initialize gcs storage: %w", err)
		}
		a.logger.Info("Using GCS storage provider", zap.String("bucket", bucket))
		a.store = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown storage provider: %s", provider)
	}
	return nil
}

func (a *App) initCatalog(ctx context.Context) error {
	switch provider := a.v.GetString("catalog.provider"); provider {
	case "", "noop":
		a.logger.Info("Document catalog disabled")
	case "postgres":
		dsn := a.v.GetString("catalog.postgres.dsn")
		if dsn == "" {
			return fmt.Errorf("catalog provider is 'postgres' but catalog.postgres.dsn is not set")
		}
		catalog, err := postgres.NewCatalog(ctx, postgres.CatalogConfig{
			DSN:       dsn,
			Table:     a.v.GetString("catalog.postgres.table"),
			RunsTable: a.v.GetString("catalog.postgres.runs_table"),
		}, a.runID)
		if err != nil {
			return fmt.Errorf("failed to initialize catalog: %w", err)
		}
		a.closers = append(a.closers, func() error { catalog.Close(); return nil })
		if err := catalog.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare catalog schema: %w", err)
		}
		a.logger.Info("Using Postgres document catalog")
		a.catalog = catalog
	default:
		return fmt.Errorf("unknown catalog provider: %s", provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	switch provider := a.v.GetString("notify.provider"); provider {
	case "", "noop":
		a.logger.Info("Archive notifications disabled")
	case "memory":
		pub := memory.New()
		a.logger.Info("Recording archive notifications in memory")
		a.publisher = pub
		a.closers = append(a.closers, func() error {
			a.logger.Info("Archive notifications recorded", zap.Int("count", len(pub.Messages())))
			return nil
		})
	case "pubsub":
		projectID := a.v.GetString("notify.pubsub.project_id")
		topicID := a.v.GetString("notify.pubsub.topic_id")
		if projectID == "" || topicID == "" {
			return fmt.Errorf("notify provider is 'pubsub' but project_id or topic_id is not set")
		}
		pub, err := pubsub.Open(ctx, projectID, topicID, map[string]string{
			"run_id":           a.runID,
			"source_authority": a.cfg.SourceAuthority,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize publisher: %w", err)
		}
		a.logger.Info("Publishing archive notifications", zap.String("topic", topicID))
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	default:
		return fmt.Errorf("unknown notify provider: %s", provider)
	}
	return nil
}

// Run executes one crawl and returns its final statistics. Progress is drawn
// on progressOut when progress.enabled is set; the status server runs for the
// duration of the crawl when server.addr is set.
func (a *App) Run(ctx context.Context, progressOut io.Writer) (crawler.StatsSnapshot, error) {
	archiveOpts := []crawler.ArchiverOption{}
	engineOpts := []crawler.EngineOption{}
	if a.catalog != nil {
		archiveOpts = append(archiveOpts, crawler.WithCatalog(a.catalog))
		engineOpts = append(engineOpts, crawler.WithRunLog(a.catalog, a.runID))
	}
	if a.publisher != nil {
		archiveOpts = append(archiveOpts, crawler.WithPublisher(a.publisher))
	}
	if a.v.GetBool("progress.enabled") && progressOut != nil {
		engineOpts = append(engineOpts, crawler.WithProgress(crawler.NewProgressBar(progressOut)))
	}

	engine := crawler.NewEngine(
		a.cfg,
		crawler.NewFrontier(a.cfg.Domain),
		crawler.NewHTTPFetcher(a.cfg, a.logger),
		crawler.NewArchiver(a.cfg, a.store, a.logger, archiveOpts...),
		a.logger,
		engineOpts...,
	)

	addr := a.v.GetString("server.addr")
	if addr == "" {
		err := engine.Run(ctx)
		return engine.Snapshot(), err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	var g errgroup.Group
	g.Go(func() error {
		return api.NewServer(engine, a.runID, a.logger).Serve(serverCtx, addr)
	})
	runErr := engine.Run(ctx)
	stopServer()
	if err := g.Wait(); err != nil {
		a.logger.Warn("Status server stopped with error", zap.Error(err))
	}
	return engine.Snapshot(), runErr
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error closing application services", zap.Error(err))
	}
}
