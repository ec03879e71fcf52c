// Package worker runs the long-lived background loop that drains the scan
// queue and performs out-of-band metrics recomputes and selector backfills,
// driven by typed control messages.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/service"
)

// defaultTickBatch is how many jobs one queue_tick claims per project. Kept
// small so a single tick never monopolizes the external API budget.
const defaultTickBatch = 3

// Options configures the worker loop.
type Options struct {
	Queue     *service.QueueService    // Required: batch claiming
	Processor *service.Processor       // Required: per-job execution
	Metrics   *service.MetricsService  // Required: metrics_refresh handling
	Backfill  *service.BackfillService // Required: selectors_backfill handling
	Projects  core.ProjectRepository   // Required: queue_tick project sweep
	Logger    *slog.Logger             // Optional
	TickBatch int                      // Optional: jobs claimed per project per tick
}

// Worker consumes typed control messages and emits typed progress events.
// One message is handled at a time; a failing message becomes an error
// event, never a loop exit.
type Worker struct {
	queue     *service.QueueService
	processor *service.Processor
	metrics   *service.MetricsService
	backfill  *service.BackfillService
	projects  core.ProjectRepository
	logger    *slog.Logger
	tickBatch int
}

// New constructs a worker loop.
func New(opts Options) (*Worker, error) {
	switch {
	case opts.Queue == nil:
		return nil, errors.New("QueueService is required")
	case opts.Processor == nil:
		return nil, errors.New("Processor is required")
	case opts.Metrics == nil:
		return nil, errors.New("MetricsService is required")
	case opts.Backfill == nil:
		return nil, errors.New("BackfillService is required")
	case opts.Projects == nil:
		return nil, errors.New("ProjectRepository is required")
	}

	batch := opts.TickBatch
	if batch <= 0 {
		batch = defaultTickBatch
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "worker")
	}

	return &Worker{
		queue:     opts.Queue,
		processor: opts.Processor,
		metrics:   opts.Metrics,
		backfill:  opts.Backfill,
		projects:  opts.Projects,
		logger:    logger,
		tickBatch: batch,
	}, nil
}

// Run consumes messages until the inbound channel closes or the context is
// cancelled. The outbound channel is closed on return.
func (w *Worker) Run(ctx context.Context, in <-chan Inbound, out chan<- Outbound) error {
	defer close(out)

	if w.logger != nil {
		w.logger.InfoContext(ctx, "worker started", "tick_batch", w.tickBatch)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			w.handle(ctx, msg, out)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Inbound, out chan<- Outbound) {
	switch m := msg.(type) {
	case QueueTick:
		w.handleQueueTick(ctx, out)
	case MetricsRefresh:
		w.handleMetricsRefresh(ctx, m.ProjectID, out)
	case SelectorsBackfill:
		w.handleSelectorsBackfill(ctx, m.ProjectID, out)
	}
}

// handleQueueTick claims a small pending batch per project and processes
// the claimed jobs sequentially to bound external-API load.
func (w *Worker) handleQueueTick(ctx context.Context, out chan<- Outbound) {
	projects, err := w.projects.List(ctx)
	if err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "list projects for tick", "error", err)
		}
		return
	}

	for _, project := range projects {
		jobs, err := w.queue.ClaimBatch(ctx, project.ID, w.tickBatch)
		if err != nil {
			if w.logger != nil {
				w.logger.ErrorContext(ctx, "claim batch", "project_id", project.ID, "error", err)
			}
			continue
		}
		for _, job := range jobs {
			outcome := w.processor.Process(ctx, job)
			w.emit(ctx, out, QueueJob{
				JobID:         outcome.JobID,
				URLID:         outcome.URLID,
				ViewportLabel: outcome.ViewportLabel,
				Status:        outcome.Status,
				Error:         outcome.ErrorMessage,
			})
		}
	}
}

func (w *Worker) handleMetricsRefresh(ctx context.Context, projectID int64, out chan<- Outbound) {
	if err := w.metrics.Recompute(ctx, projectID); err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "metrics recompute", "project_id", projectID, "error", err)
		}
		w.emit(ctx, out, MetricsError{ProjectID: projectID, Error: err.Error()})
		return
	}
	w.emit(ctx, out, MetricsUpdated{ProjectID: projectID})
}

func (w *Worker) handleSelectorsBackfill(ctx context.Context, projectID int64, out chan<- Outbound) {
	updated, err := w.backfill.Run(ctx, projectID)
	if err != nil {
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "selector backfill", "project_id", projectID, "error", err)
		}
		w.emit(ctx, out, SelectorsError{ProjectID: projectID, Error: err.Error()})
		return
	}
	w.emit(ctx, out, SelectorsBackfilled{ProjectID: projectID, Updated: updated})
}

func (w *Worker) emit(ctx context.Context, out chan<- Outbound, msg Outbound) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}
