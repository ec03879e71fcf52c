package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/accesswatch/accesswatch/internal/core"
)

const defaultBackfillBatch = 500

// BackfillServiceOptions groups dependencies for BackfillService.
type BackfillServiceOptions struct {
	Selectors core.SelectorRepository // Required
	Projects  core.ProjectRepository  // Required: guard and done flags
	Logger    *slog.Logger            // Optional
	BatchSize int                     // Optional: rows per pass
}

// BackfillService retroactively assigns selector ids to element rows that
// predate interning, one bounded batch per run so passes can be scheduled
// repeatedly until none remain.
type BackfillService struct {
	selectors core.SelectorRepository
	projects  core.ProjectRepository
	logger    *slog.Logger
	batchSize int
}

// NewBackfillService constructs a new BackfillService.
func NewBackfillService(opts BackfillServiceOptions) (*BackfillService, error) {
	if opts.Selectors == nil {
		return nil, errors.New("SelectorRepository is required")
	}
	if opts.Projects == nil {
		return nil, errors.New("ProjectRepository is required")
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBackfillBatch
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "backfill_service")
	}

	return &BackfillService{
		selectors: opts.Selectors,
		projects:  opts.Projects,
		logger:    logger,
		batchSize: batch,
	}, nil
}

// Run performs one backfill pass under the project's running guard. A pass
// already in flight is silently skipped. When a pass updates zero rows,
// the project's backfill_done flag stops future scheduling.
func (s *BackfillService) Run(ctx context.Context, projectID int64) (int64, error) {
	acquired, err := s.projects.TrySetBackfillRunning(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("acquire backfill guard: %w", err)
	}
	if !acquired {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "backfill already running", "project_id", projectID)
		}
		return 0, nil
	}
	defer func() {
		if err := s.projects.ClearBackfillRunning(ctx, projectID); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "release backfill guard", "project_id", projectID, "error", err)
		}
	}()

	updated, err := s.selectors.BackfillElements(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("backfill elements: %w", err)
	}

	if updated == 0 {
		if err := s.projects.SetBackfillDone(ctx, projectID); err != nil {
			return 0, fmt.Errorf("set backfill done: %w", err)
		}
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "backfill pass",
			"project_id", projectID, "updated", updated)
	}
	return updated, nil
}
