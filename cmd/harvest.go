package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/api"
	"github.com/pncp-tools/harvester/internal/dispatcher"
	"github.com/pncp-tools/harvester/internal/harvest"
	"github.com/pncp-tools/harvester/internal/logging"
	"github.com/pncp-tools/harvester/internal/plan"
	memorypublisher "github.com/pncp-tools/harvester/internal/publisher/memory"
	pubsubpublisher "github.com/pncp-tools/harvester/internal/publisher/pubsub"
	"github.com/pncp-tools/harvester/internal/source"
	"github.com/pncp-tools/harvester/internal/worker"
)

// newHarvestCmd creates the 'harvest' subcommand: plan sync, worker pool and
// the status API, running until interrupted.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Run the extraction worker pool",
		Long: `Synchronizes the task plan, then starts the configured number of
workers. Each worker repeatedly claims a pending task through an atomic
database lease, pages through the endpoint's results for that task's
date, deduplicates payloads by digest and records progress durably. The
status API and Prometheus metrics are served alongside.`,
		RunE: runHarvest,
	}
	return cmd
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := planInput(a, "", "")
	if err != nil {
		return err
	}
	gen := plan.NewGenerator(a.tasks, a.plans, a.clock, logging.Component(a.logger, "plan"))
	p, err := gen.Sync(ctx, in)
	if err != nil {
		return fmt.Errorf("sync plan: %w", err)
	}

	fetcher, err := source.New(source.Config{
		BaseURL:   a.cfg.Source.BaseURL,
		Timeout:   a.cfg.SourceTimeout(),
		UserAgent: a.cfg.Source.UserAgent,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init source client: %w", err)
	}
	retry := harvest.NewExponentialRetryPolicy(
		a.cfg.Source.MaxRetries,
		time.Duration(a.cfg.Source.BackoffInitialMs)*time.Millisecond,
		time.Duration(a.cfg.Source.BackoffMaxMs)*time.Millisecond,
	)

	pub, closePub, err := buildPublisher(ctx, a)
	if err != nil {
		return err
	}
	defer closePub()

	runID, err := a.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	hostname, _ := os.Hostname()

	workerCfg := worker.Config{
		Fingerprint: p.Fingerprint,
		Lease:       a.cfg.Lease(),
		PageSize:    a.cfg.Harvest.PageSize,
		ClaimBatch:  a.cfg.Harvest.ClaimBatch,
		IdleWait:    a.cfg.IdleWait(),
		Topic:       a.cfg.PubSub.TopicName,
		RunID:       runID,
	}
	workers := make([]*worker.Worker, 0, a.cfg.Harvest.Workers)
	for i := 0; i < a.cfg.Harvest.Workers; i++ {
		workers = append(workers, worker.New(
			fmt.Sprintf("%s-%d", hostname, i),
			a.claims, a.results, a.requests, a.contents,
			fetcher, retry, pub,
			a.clock, a.ids,
			harvest.NewCatalog(a.cfg.Plan.Catalog),
			workerCfg,
			logging.Component(a.logger, "worker"),
		))
	}

	a.logger.Info("harvest starting",
		zap.String("fingerprint", p.Fingerprint),
		zap.String("run_id", runID),
		zap.Int("workers", len(workers)),
	)

	dispatch := dispatcher.New(workers, logging.Component(a.logger, "dispatcher"))
	dispatchDone := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(dispatchDone)
	}()

	srv := newHTTPServer(a)
	go func() {
		a.logger.Info("status api started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before deadline")
	}
	a.logger.Info("shutdown complete")
	return nil
}

// buildPublisher returns the configured completion-event publisher: Pub/Sub
// when enabled, otherwise an in-memory sink.
func buildPublisher(ctx context.Context, a *app) (harvest.Publisher, func(), error) {
	if !a.cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := gcppubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	return pub, func() {
		pub.Close()
		_ = client.Close()
	}, nil
}

// newHTTPServer builds the status API server over the app's stores.
func newHTTPServer(a *app) *http.Server {
	apiServer := api.NewServer(
		a.tasks, a.plans, a.contents, a.aggregator,
		func(ctx context.Context) error { return a.pool.Ping(ctx) },
		logging.Component(a.logger, "api"),
	)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
