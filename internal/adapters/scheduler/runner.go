// Package scheduler runs the timer loop that drives the background worker:
// a queue sweep every tick, plus metrics recomputes and selector backfills
// for the projects whose flags request them.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/accesswatch/accesswatch/internal/adapters/worker"
	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/observability/statsd"
)

const defaultInterval = 5 * time.Second

// Options configures the scheduler runner.
type Options struct {
	Projects core.ProjectRepository // Required: dirty/pending flag scan
	Interval time.Duration          // Optional: tick interval
	Logger   *slog.Logger           // Optional
	Metrics  statsd.Sink            // Optional: tick metrics
}

// Runner emits control messages for the worker at a fixed interval. Tick
// errors are logged and skipped; the loop only exits on context
// cancellation.
type Runner struct {
	projects core.ProjectRepository
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRunner constructs a scheduler runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Projects == nil {
		return nil, errors.New("ProjectRepository is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "scheduler")
	}

	return &Runner{
		projects: opts.Projects,
		interval: interval,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Run ticks until the context is cancelled, sending the emitted messages
// to the worker's inbound channel.
func (r *Runner) Run(ctx context.Context, in chan<- worker.Inbound) error {
	if r.logger != nil {
		r.logger.InfoContext(ctx, "scheduler started", "interval", r.interval)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			emitted, err := r.Tick(ctx, in)
			r.emitTickMetrics(emitted, err)
			if err != nil && r.logger != nil {
				r.logger.ErrorContext(ctx, "scheduler tick", "error", err)
			}
		}
	}
}

// Tick emits one QueueTick plus per-project refresh and backfill messages
// for projects whose flags request work and whose running guards are free.
// Returns how many messages were emitted.
func (r *Runner) Tick(ctx context.Context, in chan<- worker.Inbound) (int, error) {
	emitted := 0
	if !r.send(ctx, in, worker.QueueTick{}) {
		return emitted, ctx.Err()
	}
	emitted++

	projects, err := r.projects.List(ctx)
	if err != nil {
		return emitted, err
	}

	for _, project := range projects {
		if project.MetricsDirty && !project.MetricsRunning {
			if !r.send(ctx, in, worker.MetricsRefresh{ProjectID: project.ID}) {
				return emitted, ctx.Err()
			}
			emitted++
		}
		if !project.BackfillDone && !project.BackfillRunning {
			if !r.send(ctx, in, worker.SelectorsBackfill{ProjectID: project.ID}) {
				return emitted, ctx.Err()
			}
			emitted++
		}
	}
	return emitted, nil
}

func (r *Runner) send(ctx context.Context, in chan<- worker.Inbound, msg worker.Inbound) bool {
	select {
	case in <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) emitTickMetrics(emitted int, err error) {
	if r.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	} else if emitted <= 1 {
		result = "noop"
	}
	tags := map[string]string{"result": result}
	r.metrics.Count("scheduler.tick", 1, tags)
	if emitted > 0 {
		r.metrics.Count("scheduler.messages_emitted", int64(emitted), tags)
	}
}
