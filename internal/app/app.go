// Package app wires configuration into long-lived services and runs a crawl
// end to end, acting as the dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-listing-crawler/internal/api"
	"github.com/JakeFAU/news-listing-crawler/internal/archive"
	"github.com/JakeFAU/news-listing-crawler/internal/article"
	"github.com/JakeFAU/news-listing-crawler/internal/clock/system"
	"github.com/JakeFAU/news-listing-crawler/internal/config"
	"github.com/JakeFAU/news-listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/news-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/news-listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/news-listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/news-listing-crawler/internal/output"
	"github.com/JakeFAU/news-listing-crawler/internal/pagination"
	"github.com/JakeFAU/news-listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/news-listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/news-listing-crawler/internal/storage/local"
	"github.com/JakeFAU/news-listing-crawler/internal/storage/memory"
	"github.com/JakeFAU/news-listing-crawler/internal/storage/postgres"
	"github.com/JakeFAU/news-listing-crawler/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/news-listing-crawler/internal/app"

// App holds the shared services for one crawler process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   crawler.Clock
	ids     crawler.IDGenerator
	fetcher crawler.Fetcher

	blobs     crawler.BlobStore
	runs      crawler.RunStore
	publisher crawler.Publisher
	archiver  *archive.Archiver
	admin     *api.Server

	closers []func() error
}

// New builds every service cfg asks for. It fails fast when a configured
// backend cannot be reached; anything already opened is released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(cfg.Location()),
		ids:    uuid.New(),
		fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Crawler.UserAgent,
			RespectRobots: cfg.Crawler.RespectRobots,
			Timeout:       cfg.Timeout(),
			MaxBodySize:   cfg.HTTP.MaxBodyBytes,
		}),
	}
	if err := a.init(ctx); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	if err := a.initBlobStore(ctx); err != nil {
		return err
	}
	if err := a.initRunStore(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}
	a.archiver = archive.New(archive.Config{
		Prefix:      a.cfg.Storage.Prefix,
		ContentType: a.cfg.Storage.ContentType,
		Topic:       a.cfg.PubSub.TopicName,
	}, a.blobs, a.runs, a.publisher, sha256.New(), a.clock, a.logger)

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		a.admin = api.NewServer(a.logger)
		errCh, err := a.admin.Start(addr)
		if err != nil {
			a.admin = nil
			return err
		}
		go func() {
			for err := range errCh {
				a.logger.Error("admin server stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.admin.Shutdown(shutdownCtx)
		})
		a.admin.SetReady(true)
	}
	a.logger.Info("application services initialized",
		zap.String("storage", a.cfg.Storage.Backend),
		zap.Bool("run_ledger", a.runs != nil),
		zap.Bool("notify", a.publisher != nil),
	)
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "", config.StorageNone:
	case config.StorageMemory:
		a.logger.Info("archiving digests in memory")
		a.blobs = memory.NewBlobStore()
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.logger.Info("archiving digests locally", zap.String("dir", a.cfg.Storage.BaseDir))
		a.blobs = store
	case config.StorageGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("archiving digests in GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		a.blobs = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initRunStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		return nil
	}
	store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.closers = append(a.closers, func() error { store.Close(); return nil })
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.runs = store
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsub.New(client)
	a.closers = append(a.closers, client.Close, func() error { pub.Close(); return nil })
	a.logger.Info("announcing runs on Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
	a.publisher = pub
	return nil
}

// Run performs one crawl into a fresh dated output file, then archives the
// file when any archive backend is configured. The summary reflects partial
// progress when an error is returned.
func (a *App) Run(ctx context.Context) (crawler.RunSummary, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "app.Run")
	defer span.End()

	cfg := a.cfg
	name := output.FileName(cfg.Site.ShortName, a.clock.Now(), cfg.Output.DateLayout)
	f, path, err := output.Create(cfg.Output.Dir, name)
	if err != nil {
		return crawler.RunSummary{}, err
	}

	opts := []output.Option{output.WithLogger(a.logger)}
	if cfg.Crawler.OrderedOutput {
		opts = append(opts, output.WithPageOrder(1))
	}
	writer := output.NewWriter(f, opts...)

	orch := crawler.NewOrchestrator(
		crawler.Config{
			BaseURL:         cfg.Site.BaseURL,
			PageParam:       cfg.Site.PageParam,
			IncludeLastPage: cfg.Crawler.IncludeLastPage,
		},
		a.fetcher,
		pagination.NewDetector(cfg.Pagination.Selector, cfg.ParsePolicy()),
		article.NewExtractor(cfg.Selectors),
		writer,
		a.clock,
		a.ids,
		a.logger,
	)

	a.logger.Info("crawl started", zap.String("url", cfg.Site.BaseURL), zap.String("output", path))
	summary, runErr := orch.Run(ctx)
	summary.OutputPath = path

	if err := writer.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush output: %w", err))
	}
	if err := f.Close(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close output: %w", err))
	}
	if a.admin != nil {
		a.admin.RecordRun(summary, runErr)
	}
	a.logSummary(summary, runErr)
	if runErr != nil {
		return summary, runErr
	}

	if a.archiver.Enabled() {
		res, err := a.archiver.Archive(ctx, summary)
		if err != nil {
			return summary, fmt.Errorf("archive digest: %w", err)
		}
		a.logger.Info("digest archived", zap.String("hash", res.Hash), zap.String("uri", res.BlobURI))
	}
	return summary, nil
}

func (a *App) logSummary(summary crawler.RunSummary, err error) {
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.Int("page_count", summary.PageCount),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("articles", summary.Articles),
		zap.Time("started_at", summary.StartedAt),
		zap.Time("finished_at", summary.FinishedAt),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
		zap.String("output", summary.OutputPath),
	}
	if err != nil {
		a.logger.Error("crawl failed", append(fields, zap.Error(err))...)
		return
	}
	a.logger.Info("crawl finished", fields...)
}

// AdminAddr reports the admin server address, or "" when it is disabled.
func (a *App) AdminAddr() string {
	if a.admin == nil {
		return ""
	}
	return a.admin.Addr()
}

// BlobStore exposes the configured archive backend (nil when disabled).
func (a *App) BlobStore() crawler.BlobStore {
	return a.blobs
}

// Close releases services in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range slices.Backward(a.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
