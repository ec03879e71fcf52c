package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/domain/model"
)

// Concurrency bounds for claiming jobs. The cap is hard-bounded to respect
// the external scoring API's rate limits regardless of configuration.
const (
	DefaultConcurrencyCap = 4
	MaxConcurrencyCap     = 8
)

const (
	queueSummaryCacheKey = "accesswatch:queue:summary"
	defaultSummaryTTL    = 5 * time.Second
)

// QueueServiceOptions groups dependencies for QueueService.
type QueueServiceOptions struct {
	Jobs           core.JobRepository   // Required: job repository
	URLs           core.URLRepository   // Required: resolves project ids at enqueue
	Cache          core.CacheRepository // Optional: summary read-burst cache
	Logger         *slog.Logger         // Optional: structured logger
	SummaryTTL     time.Duration        // Optional: summary cache TTL
	ConcurrencyCap int                  // Optional: global running-job cap
}

// QueueService owns the job queue: enqueue, claiming under the global
// concurrency cap, terminal transitions, and the briefly cached summary.
type QueueService struct {
	jobs       core.JobRepository
	urls       core.URLRepository
	cache      core.CacheRepository
	logger     *slog.Logger
	summaryTTL time.Duration
	cap        int
}

// NewQueueService constructs a new QueueService.
func NewQueueService(opts QueueServiceOptions) (*QueueService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.URLs == nil {
		return nil, errors.New("URLRepository is required")
	}

	ttl := opts.SummaryTTL
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}

	cap := opts.ConcurrencyCap
	if cap <= 0 {
		cap = DefaultConcurrencyCap
	}
	if cap > MaxConcurrencyCap {
		cap = MaxConcurrencyCap
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "queue_service")
	}

	return &QueueService{
		jobs:       opts.Jobs,
		urls:       opts.URLs,
		cache:      opts.Cache,
		logger:     logger,
		summaryTTL: ttl,
		cap:        cap,
	}, nil
}

// ConcurrencyCap returns the effective global cap.
func (s *QueueService) ConcurrencyCap() int {
	return s.cap
}

// Enqueue creates a pending scan job for a monitored URL. The payload is
// validated here so malformed params never reach the worker.
func (s *QueueService) Enqueue(ctx context.Context, urlID int64, payload model.ScanJobPayload) (*model.Job, error) {
	u, err := s.urls.GetByID(ctx, urlID)
	if err != nil {
		return nil, fmt.Errorf("resolve url %d: %w", urlID, err)
	}

	if payload.RunID == "" {
		payload.RunID = uuid.NewString()
	}

	job, err := s.jobs.Create(ctx, &model.CreateJobRequest{
		Type:      model.JobTypeScan,
		URLID:     u.ID,
		ProjectID: u.ProjectID,
		Payload:   payload,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.invalidateSummary(ctx)
	if s.logger != nil {
		s.logger.DebugContext(ctx, "job enqueued",
			"job_id", job.ID, "url_id", u.ID, "project_id", u.ProjectID,
			"viewport", payload.ViewportLabel)
	}
	return job, nil
}

// FetchPending lists pending jobs in FIFO order without claiming them.
func (s *QueueService) FetchPending(ctx context.Context, limit int) ([]*model.Job, error) {
	return s.jobs.FetchPending(ctx, limit)
}

// ClaimBatch atomically claims up to batchSize pending jobs, bounded by
// the free slots under the global cap: take = min(batchSize, cap-running).
// A projectID of 0 claims across all projects.
func (s *QueueService) ClaimBatch(ctx context.Context, projectID int64, batchSize int) ([]*model.Job, error) {
	running, err := s.jobs.RunningCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("running count: %w", err)
	}

	take := s.cap - running
	if batchSize < take {
		take = batchSize
	}
	if take <= 0 {
		return nil, nil
	}

	jobs, err := s.jobs.ClaimBatch(ctx, core.ClaimBatchParams{ProjectID: projectID, Limit: take})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if len(jobs) > 0 {
		s.invalidateSummary(ctx)
	}
	return jobs, nil
}

// MarkRunning claims a single job pending->running; reports false when the
// job was already claimed or is not pending.
func (s *QueueService) MarkRunning(ctx context.Context, id int64) (bool, error) {
	claimed, err := s.jobs.MarkRunning(ctx, id)
	if err != nil {
		return false, err
	}
	if claimed {
		s.invalidateSummary(ctx)
	}
	return claimed, nil
}

// MarkComplete transitions a running job to completed.
func (s *QueueService) MarkComplete(ctx context.Context, id int64) error {
	ok, err := s.jobs.MarkComplete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %d is not running", id)
	}
	s.invalidateSummary(ctx)
	return nil
}

// MarkFailed transitions a running job to failed with a human-readable
// message. Failed jobs are never re-queued automatically.
func (s *QueueService) MarkFailed(ctx context.Context, id int64, message string) error {
	ok, err := s.jobs.MarkFailed(ctx, id, message)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %d is not running", id)
	}
	s.invalidateSummary(ctx)
	return nil
}

// RunningCount returns how many jobs are currently running.
func (s *QueueService) RunningCount(ctx context.Context) (int, error) {
	return s.jobs.RunningCount(ctx)
}

// Summary returns queue counts by status, cached briefly to absorb read
// bursts from a polling dashboard.
func (s *QueueService) Summary(ctx context.Context) (*model.QueueSummary, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, queueSummaryCacheKey); err == nil && cached != nil {
			summary := &model.QueueSummary{}
			if err := json.Unmarshal(cached, summary); err == nil {
				return summary, nil
			}
		}
	}

	summary, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, queueSummaryCacheKey, encoded, s.summaryTTL); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "cache queue summary", "error", err)
			}
		}
	}
	return summary, nil
}

// Clear bulk-deletes all non-running jobs and returns how many were removed.
func (s *QueueService) Clear(ctx context.Context) (int64, error) {
	removed, err := s.jobs.Clear(ctx)
	if err != nil {
		return 0, err
	}
	s.invalidateSummary(ctx)
	return removed, nil
}

func (s *QueueService) invalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, queueSummaryCacheKey); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "invalidate queue summary cache", "error", err)
	}
}
