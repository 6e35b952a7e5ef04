package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/siteindex/internal/config"
	apihttp "github.com/fyrsmithlabs/siteindex/internal/http"
	"github.com/fyrsmithlabs/siteindex/internal/vectorstore"
	"github.com/fyrsmithlabs/siteindex/internal/workflows"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until SIGINT or SIGTERM.

When temporal.enabled is set, ingestion requests are submitted as durable
workflows and this process also runs a worker for them. Otherwise each
request runs in process, one at a time per tenant.

Examples:
  siteindexd serve
  SITEINDEX_SERVER_HTTP_PORT=8088 siteindexd serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return serve(ctx, cfg)
}

// serve blocks until ctx is cancelled or the HTTP server fails.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg, appOptions{ingest: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	deps := apihttp.Deps{
		Searcher: a.retriever,
		Index:    a.writer,
		Runner:   a.ingest,
		Runs:     a.runs,
	}
	if hc, ok := a.index.(vectorstore.HealthChecker); ok {
		deps.Health = hc
	}

	var w worker.Worker
	if cfg.Temporal.Enabled {
		tc, err := workflows.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer tc.Close()

		w = workflows.NewWorker(tc, cfg.Temporal.TaskQueue, &workflows.Activities{Runner: a.ingest})
		if err := w.Start(); err != nil {
			return fmt.Errorf("starting temporal worker: %w", err)
		}
		defer w.Stop()
		deps.Scheduler = workflows.NewStarter(tc, cfg.Temporal.TaskQueue)

		a.logger.Info("temporal worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	srv, err := apihttp.NewServer(deps, a.logger.Named("http"), &apihttp.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		DefaultTopK:     cfg.Retrieval.TopK,
		DefaultMinScore: cfg.Retrieval.MinSimilarity,
		DefaultMaxPages: cfg.Crawler.MaxPages,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	a.logger.Info("starting siteindexd",
		zap.String("version", version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("scheduler", deps.Scheduler != nil),
		zap.Bool("nats", a.nc != nil))

	go func() {
		if err := a.redactor.Watch(ctx); err != nil {
			a.logger.Warn("allowlist watch stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
