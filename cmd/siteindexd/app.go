package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/chunker"
	"github.com/fyrsmithlabs/siteindex/internal/config"
	"github.com/fyrsmithlabs/siteindex/internal/crawler"
	"github.com/fyrsmithlabs/siteindex/internal/embeddings"
	"github.com/fyrsmithlabs/siteindex/internal/indexer"
	"github.com/fyrsmithlabs/siteindex/internal/ingest"
	"github.com/fyrsmithlabs/siteindex/internal/logging"
	"github.com/fyrsmithlabs/siteindex/internal/querycache"
	"github.com/fyrsmithlabs/siteindex/internal/redact"
	"github.com/fyrsmithlabs/siteindex/internal/retriever"
	"github.com/fyrsmithlabs/siteindex/internal/runs"
	"github.com/fyrsmithlabs/siteindex/internal/telemetry"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
)

// app holds every component of a running process.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	embedder  embeddings.Provider
	index     vectorstore.VectorIndex
	cache     querycache.Cache
	retriever *retriever.Service
	writer    *indexer.Writer

	renderer *crawler.RodRenderer
	redactor *redact.Redactor
	nc       *nats.Conn
	runs     *runs.Registry
	ingest   *ingest.Orchestrator

	closers []func() error
}

type appOptions struct {
	// stdio keeps stdout free for a protocol stream.
	stdio bool
	// ingest builds the crawl side. Query-only commands skip it.
	ingest bool
}

// loadConfig reads the config file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newApp initializes dependencies in order: telemetry, logging, storage,
// embeddings, retrieval, then (when requested) the ingestion pipeline.
// On error everything already built is closed.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging, a.telemetry.IsEnabled())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logCfg.Output.Stderr = opts.stdio
	a.log, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = a.log.Underlying()
	if h := a.telemetry.Health(); h.Degraded {
		a.logger.Warn("telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, a.logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}
	a.closers = append(a.closers, a.embedder.Close)

	a.index, err = vectorstore.NewIndex(ctx, cfg.VectorStore, a.embedder.Dimension(), a.logger.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}
	a.closers = append(a.closers, a.index.Close)

	a.cache, err = querycache.New(ctx, cfg.Cache, a.logger.Named("querycache"))
	if err != nil {
		return nil, fmt.Errorf("initializing query cache: %w", err)
	}
	a.closers = append(a.closers, a.cache.Close)

	a.retriever = retriever.NewService(a.index, a.embedder, a.cache, retriever.Config{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
	}, a.logger.Named("retriever"))

	a.writer = indexer.NewWriter(a.index, a.embedder, indexer.Config{
		BatchSize: cfg.Indexer.BatchSize,
	}, a.logger.Named("indexer"))

	if !opts.ingest {
		return a, nil
	}
	if err := a.initIngest(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) initIngest() error {
	cfg := a.cfg

	crawlOpts := []crawler.Option{crawler.WithLogger(a.logger.Named("crawler"))}
	if cfg.Crawler.Render.Enabled {
		a.renderer = crawler.NewRodRenderer(crawler.RodConfig{
			Bin:     cfg.Crawler.Render.Bin,
			Timeout: cfg.Crawler.Render.Timeout.Duration(),
		}, a.logger.Named("render"))
		a.closers = append(a.closers, a.renderer.Close)
		crawlOpts = append(crawlOpts, crawler.WithRenderer(a.renderer))
	}
	crawl := crawler.New(crawler.FromSettings(cfg.Crawler), crawlOpts...)

	var err error
	a.redactor, err = redact.New(redact.Config{
		Enabled:       cfg.Redaction.Enabled,
		AllowlistPath: cfg.Redaction.AllowlistPath,
	}, a.logger.Named("redact"))
	if err != nil {
		return fmt.Errorf("initializing redactor: %w", err)
	}

	if cfg.NATS.Enabled {
		a.nc, err = runs.Connect(cfg.NATS.URL, a.logger.Named("nats"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			return a.nc.Drain()
		})
	}
	a.runs = runs.NewRegistry(a.nc,
		runs.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
		runs.WithLogger(a.logger.Named("runs")),
	)

	a.ingest = ingest.New(crawl, a.writer,
		ingest.WithLogger(a.logger.Named("ingest")),
		ingest.WithRedactor(a.redactor),
		ingest.WithCache(a.retriever),
		ingest.WithTracker(a.runs),
		ingest.WithChunkerOptions(
			chunker.WithTargetSize(cfg.Chunker.TargetSize),
			chunker.WithOverlap(cfg.Chunker.Overlap),
			chunker.WithMinLength(cfg.Chunker.MinLength),
			chunker.WithHardCap(cfg.Chunker.HardCap),
		),
	)
	return nil
}

// Close releases components in reverse order of creation, then flushes
// telemetry and the logger.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}
