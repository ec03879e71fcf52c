package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/accesswatch/accesswatch/config"
	"github.com/accesswatch/accesswatch/internal/adapters/scheduler"
	"github.com/accesswatch/accesswatch/internal/adapters/worker"
	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/data"
	"github.com/accesswatch/accesswatch/internal/observability/statsd"
	"github.com/accesswatch/accesswatch/internal/service"
	"github.com/accesswatch/accesswatch/internal/wave"
)

const inboundBuffer = 64

// Services holds the constructed service layer shared by every process
// mode.
type Services struct {
	Queue       *service.QueueService
	Processor   *service.Processor
	Metrics     *service.MetricsService
	Aggregation *service.AggregationService
	Backfill    *service.BackfillService
	Projects    core.ProjectRepository
	Sink        statsd.Sink
}

// ServiceDeps carries the shared infrastructure handed to NewServices.
type ServiceDeps struct {
	DB     *sql.DB
	Redis  redis.UniversalClient
	Config *config.AppConfig
	Logger *slog.Logger
}

// NewServices wires repositories, the scoring client, and the service
// layer from connected infrastructure.
func NewServices(deps ServiceDeps) (*Services, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("database connection is required")
	case deps.Config == nil:
		return nil, errors.New("config is required")
	}

	cfg := deps.Config
	logger := deps.Logger
	tp := &data.RealTimeProvider{}

	jobs := data.NewJobRepo(deps.DB, data.JobRepoConfig{Logger: logger, TimeProvider: tp})
	projects := data.NewProjectRepo(deps.DB, logger)
	urls := data.NewURLRepo(deps.DB, logger)
	viewports := data.NewViewportRepo(deps.DB, logger)
	selectors := data.NewSelectorRepo(deps.DB, logger)
	issues := data.NewIssueRepo(deps.DB, logger)
	results := data.NewResultRepo(deps.DB, data.ResultRepoConfig{Logger: logger, TimeProvider: tp})
	suppressions := data.NewSuppressionRepo(deps.DB, logger)
	metricsCache := data.NewMetricsCacheRepo(deps.DB, data.MetricsCacheRepoConfig{Logger: logger, TimeProvider: tp})

	var cache core.CacheRepository
	if deps.Redis != nil {
		cache = data.NewRedisCacheRepo(deps.Redis)
	}

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.Metrics.IsEnabled(),
		Address: cfg.Observability.Metrics.StatsdAddress,
		Prefix:  cfg.Observability.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}

	scorer, err := wave.NewClient(wave.Config{
		BaseURL: cfg.Wave.BaseURL,
		DocsURL: cfg.Wave.DocsURL,
		Timeout: cfg.Wave.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create wave client: %w", err)
	}

	queue, err := service.NewQueueService(service.QueueServiceOptions{
		Jobs:           jobs,
		URLs:           urls,
		Cache:          cache,
		Logger:         logger,
		SummaryTTL:     cfg.Redis.SummaryTTL,
		ConcurrencyCap: cfg.Queue.ConcurrencyCap,
	})
	if err != nil {
		return nil, fmt.Errorf("create queue service: %w", err)
	}

	processor, err := service.NewProcessor(service.ProcessorOptions{
		Queue:        queue,
		Projects:     projects,
		URLs:         urls,
		Issues:       issues,
		Results:      results,
		Selectors:    selectors,
		Suppressions: suppressions,
		Scorer:       scorer,
		Logger:       logger,
		Sink:         sink,
		TimeProvider: tp,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	metrics, err := service.NewMetricsService(service.MetricsServiceOptions{
		Durable:   metricsCache,
		Projects:  projects,
		Viewports: viewports,
		Issues:    issues,
		Cache:     cache,
		Logger:    logger,
		FastTTL:   cfg.Redis.MetricsTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create metrics service: %w", err)
	}

	aggregation, err := service.NewAggregationService(service.AggregationServiceOptions{
		Issues:       issues,
		Suppressions: suppressions,
		Metrics:      metrics,
		Scorer:       scorer,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create aggregation service: %w", err)
	}

	backfill, err := service.NewBackfillService(service.BackfillServiceOptions{
		Selectors: selectors,
		Projects:  projects,
		Logger:    logger,
		BatchSize: cfg.Worker.BackfillBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("create backfill service: %w", err)
	}

	return &Services{
		Queue:       queue,
		Processor:   processor,
		Metrics:     metrics,
		Aggregation: aggregation,
		Backfill:    backfill,
		Projects:    projects,
		Sink:        sink,
	}, nil
}

// RunOptions configures RunServicesWithShutdown.
type RunOptions struct {
	Config   *config.AppConfig
	Services *Services
	Logger   *slog.Logger

	// Stdin and Stdout carry the NDJSON control and event streams.
	Stdin  io.Reader
	Stdout io.Writer
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// shutdown signal arrives or a service fails. The worker reads control
// messages from Stdin and writes progress events to Stdout as NDJSON;
// when the scheduler is enabled it ticks into the same control stream.
func RunServicesWithShutdown(opts RunOptions) error {
	switch {
	case opts.Config == nil:
		return errors.New("config is required")
	case opts.Services == nil:
		return errors.New("services are required")
	}
	if err := ValidateServiceConfig(opts.Config); err != nil {
		return err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	in := make(chan worker.Inbound, inboundBuffer)
	out := make(chan worker.Outbound, inboundBuffer)
	codec := worker.NewCodec(logger)
	schedulerEnabled := opts.Config.IsSchedulerEnabled()

	w, err := worker.New(worker.Options{
		Queue:     opts.Services.Queue,
		Processor: opts.Services.Processor,
		Metrics:   opts.Services.Metrics,
		Backfill:  opts.Services.Backfill,
		Projects:  opts.Services.Projects,
		Logger:    logger,
		TickBatch: opts.Config.Worker.TickBatch,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	logger.Info("starting worker", "tick_batch", opts.Config.Worker.TickBatch)

	g.Go(func() error {
		return w.Run(ctx, in, out)
	})
	g.Go(func() error {
		return codec.WriteLoop(ctx, stdout, out)
	})
	g.Go(func() error {
		stdinCh := make(chan worker.Inbound, inboundBuffer)
		readErr := make(chan error, 1)
		go func() {
			readErr <- codec.ReadLoop(ctx, stdin, stdinCh)
		}()
		for msg := range stdinCh {
			select {
			case in <- msg:
			case <-ctx.Done():
				// The read goroutine may be blocked on stdin; the process
				// is exiting, so don't wait for it.
				return ctx.Err()
			}
		}
		// Without a scheduler the control stream is the only input, so
		// EOF on stdin drains the worker and ends the process.
		if !schedulerEnabled {
			close(in)
		}
		return <-readErr
	})

	if schedulerEnabled {
		runner, err := scheduler.NewRunner(scheduler.Options{
			Projects: opts.Services.Projects,
			Interval: opts.Config.Scheduler.Interval,
			Logger:   logger,
			Metrics:  opts.Services.Sink,
		})
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		logger.Info("starting scheduler", "interval", opts.Config.Scheduler.Interval.String())
		g.Go(func() error {
			return runner.Run(ctx, in)
		})
	}

	err = g.Wait()
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
