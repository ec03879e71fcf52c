package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	"github.com/accesswatch/accesswatch/internal/wave"
)

// AggregationServiceOptions groups dependencies for AggregationService.
type AggregationServiceOptions struct {
	Issues       core.IssueRepository       // Required
	Suppressions core.SuppressionRepository // Required
	Metrics      *MetricsService            // Required: invalidated on suppression changes
	Scorer       wave.Scorer                // Optional: item documentation lookups
	Logger       *slog.Logger               // Optional
}

// AggregationService exposes the suppression-aware read queries to the web
// layer and owns suppression rule changes, which invalidate the metrics
// cache for the affected project.
type AggregationService struct {
	issues       core.IssueRepository
	suppressions core.SuppressionRepository
	metrics      *MetricsService
	scorer       wave.Scorer
	logger       *slog.Logger
}

// NewAggregationService constructs a new AggregationService.
func NewAggregationService(opts AggregationServiceOptions) (*AggregationService, error) {
	switch {
	case opts.Issues == nil:
		return nil, errors.New("IssueRepository is required")
	case opts.Suppressions == nil:
		return nil, errors.New("SuppressionRepository is required")
	case opts.Metrics == nil:
		return nil, errors.New("MetricsService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "aggregation_service")
	}

	return &AggregationService{
		issues:       opts.Issues,
		suppressions: opts.Suppressions,
		metrics:      opts.Metrics,
		scorer:       opts.Scorer,
		logger:       logger,
	}, nil
}

// UniqueCounts returns the suppression-aware distinct-selector tally for
// the requested scope.
func (s *AggregationService) UniqueCounts(ctx context.Context, q model.UniqueCountQuery) (*model.UniqueCounts, error) {
	return s.issues.UniqueCounts(ctx, q)
}

// CategorySummary lists issue items with unique instance and page counts.
func (s *AggregationService) CategorySummary(ctx context.Context, q model.UniqueCountQuery) ([]*model.IssueSummaryRow, error) {
	return s.issues.CategorySummary(ctx, q)
}

// URLSummary tallies unique counts per URL.
func (s *AggregationService) URLSummary(ctx context.Context, q model.UniqueCountQuery) ([]*model.URLSummaryRow, error) {
	return s.issues.URLSummary(ctx, q)
}

// IssuePages lists the page occurrences of one issue item.
func (s *AggregationService) IssuePages(ctx context.Context, q model.UniqueCountQuery) ([]*model.IssuePageRow, error) {
	if q.ItemID == "" {
		return nil, errors.New("item id is required")
	}
	return s.issues.IssuePages(ctx, q)
}

// ItemDoc returns the vendor documentation for one issue item.
func (s *AggregationService) ItemDoc(ctx context.Context, itemID string) (*wave.ItemDoc, error) {
	if s.scorer == nil {
		return nil, errors.New("no scoring client configured")
	}
	return s.scorer.FetchDoc(ctx, itemID)
}

// Suppress creates or refreshes an item-level suppression rule. The rule
// takes effect immediately for every aggregate query; the metrics cache is
// invalidated for recompute.
func (s *AggregationService) Suppress(ctx context.Context, rule *model.Suppression) (*model.Suppression, error) {
	created, err := s.suppressions.Upsert(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	s.invalidate(ctx, created.ProjectID)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "suppression added",
			"project_id", created.ProjectID, "item_id", created.ItemID, "category", created.Category)
	}
	return created, nil
}

// Unsuppress removes an item-level rule. Rows dropped at ingestion while
// the rule was active are not restored.
func (s *AggregationService) Unsuppress(ctx context.Context, params core.DeleteSuppressionParams) (bool, error) {
	removed, err := s.suppressions.Delete(ctx, params)
	if err != nil {
		return false, fmt.Errorf("delete suppression: %w", err)
	}
	if removed {
		s.invalidate(ctx, params.ProjectID)
	}
	return removed, nil
}

// SuppressElement creates a selector-level suppression rule.
func (s *AggregationService) SuppressElement(ctx context.Context, rule *model.ElementSuppression) (*model.ElementSuppression, error) {
	created, err := s.suppressions.UpsertElement(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("upsert element suppression: %w", err)
	}
	s.invalidate(ctx, created.ProjectID)
	return created, nil
}

// UnsuppressElement removes a selector-level rule by id.
func (s *AggregationService) UnsuppressElement(ctx context.Context, projectID, id int64) (bool, error) {
	removed, err := s.suppressions.DeleteElement(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete element suppression: %w", err)
	}
	if removed {
		s.invalidate(ctx, projectID)
	}
	return removed, nil
}

// ListSuppressions lists a project's item-level rules.
func (s *AggregationService) ListSuppressions(ctx context.Context, projectID int64) ([]*model.Suppression, error) {
	return s.suppressions.ListByProject(ctx, projectID)
}

// ListElementSuppressions lists a project's selector-level rules.
func (s *AggregationService) ListElementSuppressions(ctx context.Context, projectID int64) ([]*model.ElementSuppression, error) {
	return s.suppressions.ListElementsByProject(ctx, projectID)
}

func (s *AggregationService) invalidate(ctx context.Context, projectID int64) {
	if err := s.metrics.Invalidate(ctx, projectID); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "invalidate metrics cache", "project_id", projectID, "error", err)
	}
}
