package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/data"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	"github.com/accesswatch/accesswatch/internal/observability/metrics"
	"github.com/accesswatch/accesswatch/internal/observability/statsd"
	"github.com/accesswatch/accesswatch/internal/wave"
)

// MissingAPIKeyMessage is the fixed failure message for projects without a
// configured scoring API key.
const MissingAPIKeyMessage = "Missing WAVE API key. Add it in Project Configuration."

// maxFailureMessage bounds the short job error message; the full
// diagnostic goes to the log instead.
const maxFailureMessage = 200

// JobOutcome reports the terminal state of one processed job, shaped for
// the worker's queue.job progress events.
type JobOutcome struct {
	JobID         int64
	URLID         int64
	ViewportLabel string
	Status        model.JobStatus
	ErrorMessage  string
}

// diagnosticSource is implemented by scoring clients that retain the last
// request's snapshot for failure diagnostics.
type diagnosticSource interface {
	LastRequest() wave.RequestRecord
}

// ProcessorOptions groups dependencies for Processor.
type ProcessorOptions struct {
	Queue        *QueueService              // Required: terminal-state transitions
	Projects     core.ProjectRepository     // Required
	URLs         core.URLRepository         // Required
	Issues       core.IssueRepository       // Required
	Results      core.ResultRepository      // Required
	Selectors    core.SelectorRepository    // Required
	Suppressions core.SuppressionRepository // Required
	Scorer       wave.Scorer                // Required: external scoring client
	Logger       *slog.Logger               // Optional
	Sink         statsd.Sink                // Optional: lifecycle metrics
	TimeProvider data.TimeProvider          // Optional
}

// Processor turns one claimed job into exactly one terminal state: a new
// Result row plus issue rows on success, a persisted failure message
// otherwise. A failure never panics out of Process.
type Processor struct {
	queue        *QueueService
	projects     core.ProjectRepository
	urls         core.URLRepository
	issues       core.IssueRepository
	results      core.ResultRepository
	selectors    core.SelectorRepository
	suppressions core.SuppressionRepository
	scorer       wave.Scorer
	logger       *slog.Logger
	sink         statsd.Sink
	timeProvider data.TimeProvider
}

// NewProcessor constructs a new Processor.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	switch {
	case opts.Queue == nil:
		return nil, errors.New("QueueService is required")
	case opts.Projects == nil:
		return nil, errors.New("ProjectRepository is required")
	case opts.URLs == nil:
		return nil, errors.New("URLRepository is required")
	case opts.Issues == nil:
		return nil, errors.New("IssueRepository is required")
	case opts.Results == nil:
		return nil, errors.New("ResultRepository is required")
	case opts.Selectors == nil:
		return nil, errors.New("SelectorRepository is required")
	case opts.Suppressions == nil:
		return nil, errors.New("SuppressionRepository is required")
	case opts.Scorer == nil:
		return nil, errors.New("Scorer is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "processor")
	}

	return &Processor{
		queue:        opts.Queue,
		projects:     opts.Projects,
		urls:         opts.URLs,
		issues:       opts.Issues,
		results:      opts.Results,
		selectors:    opts.Selectors,
		suppressions: opts.Suppressions,
		scorer:       opts.Scorer,
		logger:       logger,
		sink:         opts.Sink,
		timeProvider: tp,
	}, nil
}

// Process runs one claimed job to a terminal state and returns the outcome.
func (p *Processor) Process(ctx context.Context, job *model.Job) JobOutcome {
	start := time.Now()
	metrics.EmitScanLifecycle(p.sink, metrics.ScanMetric{Transition: metrics.TransitionClaim})

	payload, err := job.ScanPayload()
	if err != nil {
		return p.fail(ctx, job, "", "Invalid job payload.", err, start)
	}
	viewport := payload.ViewportLabel

	u, err := p.urls.GetByID(ctx, job.URLID)
	if err != nil {
		return p.fail(ctx, job, viewport, "URL not found for job", err, start)
	}

	project, err := p.projects.GetByID(ctx, job.ProjectID)
	if err != nil {
		return p.fail(ctx, job, viewport, "Project not found for job", err, start)
	}

	if strings.TrimSpace(project.APIKey) == "" {
		return p.fail(ctx, job, viewport, MissingAPIKeyMessage, nil, start)
	}

	params := model.ResolveScanParams(project, payload)
	policy := model.RetryPolicyFor(project)

	var report *wave.Report
	err = withRetry(ctx, policy, func(ctx context.Context) error {
		r, analyzeErr := p.scorer.Analyze(ctx, project.APIKey, u.Address, params)
		if analyzeErr != nil {
			return analyzeErr
		}
		report = r
		return nil
	})
	if err != nil {
		p.logDiagnostics(ctx, job)
		return p.fail(ctx, job, viewport, shortMessage(err), err, start)
	}

	testedAt := p.timeProvider.Now().UTC()
	if err := p.ingest(ctx, job, project, params, report, testedAt); err != nil {
		return p.fail(ctx, job, viewport, "Failed to store scan results.", err, start)
	}

	if err := p.projects.SetMetricsDirty(ctx, job.ProjectID, true); err != nil && p.logger != nil {
		p.logger.WarnContext(ctx, "mark metrics dirty", "project_id", job.ProjectID, "error", err)
	}

	if err := p.queue.MarkComplete(ctx, job.ID); err != nil && p.logger != nil {
		p.logger.WarnContext(ctx, "mark job complete", "job_id", job.ID, "error", err)
	}

	metrics.EmitScanLifecycle(p.sink, metrics.ScanMetric{
		Transition: metrics.TransitionComplete,
		Duration:   time.Since(start),
	})
	if p.logger != nil {
		p.logger.InfoContext(ctx, "job completed",
			"job_id", job.ID, "url_id", job.URLID, "viewport", viewport,
			"errors", report.Errors, "alerts", report.Alerts)
	}

	return JobOutcome{
		JobID:         job.ID,
		URLID:         job.URLID,
		ViewportLabel: viewport,
		Status:        model.JobStatusCompleted,
	}
}

// ProcessBatch runs multiple claimed jobs with bounded fan-out, used by
// the HTTP-triggered batch path. The worker's tick path stays sequential;
// this is the only place same-project jobs run concurrently.
func (p *Processor) ProcessBatch(ctx context.Context, jobs []*model.Job) []JobOutcome {
	outcomes := make([]JobOutcome, len(jobs))

	g := &errgroup.Group{}
	g.SetLimit(p.queue.ConcurrencyCap())
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = p.Process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// ingest decomposes the report per detail tier and writes the snapshot,
// the result row, and the recomputed unique counts.
func (p *Processor) ingest(
	ctx context.Context,
	job *model.Job,
	project *model.Project,
	params model.ScanParams,
	report *wave.Report,
	testedAt time.Time,
) error {
	suppressed, err := p.suppressions.ActiveKeys(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("load suppressions: %w", err)
	}

	snapshot, err := p.buildSnapshot(ctx, job, params, report, testedAt, suppressed)
	if err != nil {
		return err
	}
	if err := p.issues.ReplaceSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	result := &model.Result{
		URLID:          job.URLID,
		ViewportLabel:  params.ViewportLabel,
		TestedAt:       testedAt,
		AIMScore:       report.AIMScore,
		Errors:         report.Errors,
		ContrastErrors: report.ContrastErrors,
		Alerts:         report.Alerts,
		Features:       report.Features,
		Structure:      report.Structure,
		ARIA:           report.ARIA,
		TotalElements:  report.TotalElements,
		PageTitle:      report.PageTitle,
		FinalURL:       report.FinalURL,
		ReportURL:      report.ReportURL,
	}
	if params.RunID != "" {
		runID := params.RunID
		result.RunID = &runID
	}

	inserted, err := p.results.Insert(ctx, result)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	// Recompute the suppression-aware summary onto the fresh row so
	// dashboard figures reflect suppressions even though the raw API
	// counts do not.
	counts, err := p.issues.UniqueCounts(ctx, model.UniqueCountQuery{
		ProjectID:      job.ProjectID,
		URLIDs:         []int64{job.URLID},
		ViewportLabels: []string{params.ViewportLabel},
	})
	if err != nil {
		return fmt.Errorf("recompute unique counts: %w", err)
	}
	if err := p.results.UpdateUniqueCounts(ctx, inserted.ID, *counts); err != nil {
		return fmt.Errorf("store unique counts: %w", err)
	}
	return nil
}

// buildSnapshot maps report items to issue rows by detail tier: tier 1
// yields no rows, tier 2 item counts, tier 3 coarse location selectors,
// tier 4 CSS selectors with contrast detail. Suppressed (item, category)
// pairs are dropped here, before insertion.
func (p *Processor) buildSnapshot(
	ctx context.Context,
	job *model.Job,
	params model.ScanParams,
	report *wave.Report,
	testedAt time.Time,
	suppressed map[model.SuppressionKey]struct{},
) (core.SnapshotParams, error) {
	snapshot := core.SnapshotParams{
		URLID:         job.URLID,
		ViewportLabel: params.ViewportLabel,
		TestedAt:      testedAt,
	}
	if params.DetailTier < 2 {
		return snapshot, nil
	}

	for _, item := range report.Items {
		key := model.SuppressionKey{ItemID: item.ItemID, Category: item.Category}
		if _, drop := suppressed[key]; drop {
			continue
		}

		snapshot.Items = append(snapshot.Items, model.IssueItem{
			URLID:         job.URLID,
			ViewportLabel: params.ViewportLabel,
			ItemID:        item.ItemID,
			Category:      item.Category,
			Description:   item.Description,
			Count:         item.Count,
			TestedAt:      testedAt,
		})

		if params.DetailTier < 3 {
			continue
		}
		for _, el := range item.Elements {
			selectorID, err := p.selectors.GetOrCreate(ctx, el.Selector)
			if err != nil {
				return snapshot, fmt.Errorf("intern selector %q: %w", el.Selector, err)
			}
			id := selectorID
			snapshot.Elements = append(snapshot.Elements, model.IssueElement{
				URLID:           job.URLID,
				ViewportLabel:   params.ViewportLabel,
				ItemID:          item.ItemID,
				Category:        item.Category,
				SelectorID:      &id,
				Selector:        el.Selector,
				ContrastRatio:   el.ContrastRatio,
				ForegroundColor: el.ForegroundColor,
				BackgroundColor: el.BackgroundColor,
				LargeText:       el.LargeText,
				TestedAt:        testedAt,
			})
		}
	}
	return snapshot, nil
}

func (p *Processor) fail(
	ctx context.Context,
	job *model.Job,
	viewport, message string,
	cause error,
	start time.Time,
) JobOutcome {
	if err := p.queue.MarkFailed(ctx, job.ID, message); err != nil && p.logger != nil {
		p.logger.WarnContext(ctx, "mark job failed", "job_id", job.ID, "error", err)
	}

	metrics.EmitScanLifecycle(p.sink, metrics.ScanMetric{
		Transition: metrics.TransitionFail,
		Duration:   time.Since(start),
		Err:        cause,
	})
	if p.logger != nil {
		p.logger.ErrorContext(ctx, "job failed",
			"job_id", job.ID, "url_id", job.URLID, "viewport", viewport,
			"message", message, "error", cause)
	}

	return JobOutcome{
		JobID:         job.ID,
		URLID:         job.URLID,
		ViewportLabel: viewport,
		Status:        model.JobStatusFailed,
		ErrorMessage:  message,
	}
}

// logDiagnostics records the external client's last request snapshot when
// one is available; the body is already truncated by the client.
func (p *Processor) logDiagnostics(ctx context.Context, job *model.Job) {
	src, ok := p.scorer.(diagnosticSource)
	if !ok || p.logger == nil {
		return
	}
	last := src.LastRequest()
	if last.URL == "" {
		return
	}
	p.logger.ErrorContext(ctx, "scan diagnostic",
		"job_id", job.ID, "status", last.Status, "url", last.URL, "body", last.Body)
}

func shortMessage(err error) string {
	msg := err.Error()
	if len(msg) <= maxFailureMessage {
		return msg
	}
	cut := maxFailureMessage
	// Back up to a rune boundary so the cut never splits a multibyte
	// character.
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
