package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/data"
	"github.com/accesswatch/accesswatch/internal/domain/model"
)

const defaultFastTTL = 5 * time.Minute

// MetricsServiceOptions groups dependencies for MetricsService.
type MetricsServiceOptions struct {
	Durable   core.MetricsRepository  // Required: durable cache tier
	Projects  core.ProjectRepository  // Required: dirty/running flags
	Viewports core.ViewportRepository // Required: recompute key sets
	Issues    core.IssueRepository    // Required: unique-count source
	Cache     core.CacheRepository    // Optional: fast cache tier
	Logger    *slog.Logger            // Optional
	FastTTL   time.Duration           // Optional: fast tier TTL
}

// MetricsService maintains the per-project metrics cache in two tiers:
// a short-TTL fast cache in front of a durable store. Recompute runs
// out-of-band, guarded by the project's metrics_running flag.
type MetricsService struct {
	durable   core.MetricsRepository
	projects  core.ProjectRepository
	viewports core.ViewportRepository
	issues    core.IssueRepository
	cache     core.CacheRepository
	logger    *slog.Logger
	fastTTL   time.Duration
}

// NewMetricsService constructs a new MetricsService.
func NewMetricsService(opts MetricsServiceOptions) (*MetricsService, error) {
	switch {
	case opts.Durable == nil:
		return nil, errors.New("MetricsRepository is required")
	case opts.Projects == nil:
		return nil, errors.New("ProjectRepository is required")
	case opts.Viewports == nil:
		return nil, errors.New("ViewportRepository is required")
	case opts.Issues == nil:
		return nil, errors.New("IssueRepository is required")
	}

	ttl := opts.FastTTL
	if ttl <= 0 {
		ttl = defaultFastTTL
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "metrics_service")
	}

	return &MetricsService{
		durable:   opts.Durable,
		projects:  opts.Projects,
		viewports: opts.Viewports,
		issues:    opts.Issues,
		cache:     opts.Cache,
		logger:    logger,
		fastTTL:   ttl,
	}, nil
}

func fastMetricsKey(projectID int64, cacheKey string) string {
	return fmt.Sprintf("accesswatch:metrics:%d:%s", projectID, cacheKey)
}

func fastMetricsPrefix(projectID int64) string {
	return fmt.Sprintf("accesswatch:metrics:%d:", projectID)
}

// Get returns the cached metrics for a viewport-set key, or nil when no
// entry exists. The fast tier is consulted first; a durable hit
// repopulates it.
func (s *MetricsService) Get(ctx context.Context, projectID int64, cacheKey string) (*model.MetricsCacheEntry, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, fastMetricsKey(projectID, cacheKey)); err == nil && cached != nil {
			entry := &model.MetricsCacheEntry{}
			if err := json.Unmarshal(cached, entry); err == nil {
				return entry, nil
			}
		}
	}

	entry, err := s.durable.Get(ctx, projectID, cacheKey)
	if err != nil {
		if errors.Is(err, data.ErrMetricsEntryNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("durable metrics get: %w", err)
	}

	s.populateFast(ctx, entry)
	return entry, nil
}

// Set writes the entry to the durable store first, then the fast cache, so
// a fast-tier eviction can always be repopulated.
func (s *MetricsService) Set(ctx context.Context, entry *model.MetricsCacheEntry) error {
	if entry == nil {
		return errors.New("metrics cache entry is required")
	}
	if err := s.durable.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("durable metrics upsert: %w", err)
	}
	s.populateFast(ctx, entry)
	return nil
}

// Clear drops all of the project's entries from both tiers.
func (s *MetricsService) Clear(ctx context.Context, projectID int64) error {
	if _, err := s.durable.Clear(ctx, projectID); err != nil {
		return fmt.Errorf("durable metrics clear: %w", err)
	}
	if s.cache != nil {
		if _, err := s.cache.DeleteByPrefix(ctx, fastMetricsPrefix(projectID)); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "clear fast metrics tier", "project_id", projectID, "error", err)
		}
	}
	return nil
}

// Invalidate clears both tiers and flags the project for an out-of-band
// recompute. Called whenever suppression, viewport, or URL sets change.
func (s *MetricsService) Invalidate(ctx context.Context, projectID int64) error {
	if err := s.Clear(ctx, projectID); err != nil {
		return err
	}
	return s.projects.SetMetricsDirty(ctx, projectID, true)
}

// Recompute rebuilds every cache entry for the project: one entry for the
// full viewport set plus one singleton per viewport. A recompute already
// in flight is silently skipped; the running guard is always released.
func (s *MetricsService) Recompute(ctx context.Context, projectID int64) error {
	acquired, err := s.projects.TrySetMetricsRunning(ctx, projectID)
	if err != nil {
		return fmt.Errorf("acquire metrics guard: %w", err)
	}
	if !acquired {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "metrics recompute already running", "project_id", projectID)
		}
		return nil
	}
	defer func() {
		if err := s.projects.ClearMetricsRunning(ctx, projectID); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "release metrics guard", "project_id", projectID, "error", err)
		}
	}()

	viewports, err := s.viewports.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list viewports: %w", err)
	}

	labels := make([]string, 0, len(viewports))
	for _, v := range viewports {
		labels = append(labels, v.Label)
	}

	// Drop stale keys first so removed viewports never leave orphans.
	if err := s.Clear(ctx, projectID); err != nil {
		return err
	}

	keySets := [][]string{labels}
	for _, label := range labels {
		keySets = append(keySets, []string{label})
	}
	for _, set := range keySets {
		if err := s.recomputeEntry(ctx, projectID, set); err != nil {
			return err
		}
	}

	if err := s.projects.SetMetricsDirty(ctx, projectID, false); err != nil {
		return fmt.Errorf("clear dirty flag: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "metrics recomputed",
			"project_id", projectID, "entries", len(keySets))
	}
	return nil
}

func (s *MetricsService) recomputeEntry(ctx context.Context, projectID int64, labels []string) error {
	counts, err := s.issues.UniqueCounts(ctx, model.UniqueCountQuery{
		ProjectID:      projectID,
		ViewportLabels: labels,
	})
	if err != nil {
		return fmt.Errorf("unique counts for %v: %w", labels, err)
	}

	return s.Set(ctx, &model.MetricsCacheEntry{
		ProjectID: projectID,
		CacheKey:  model.MetricsCacheKey(labels),
		Errors:    counts.Errors,
		Contrast:  counts.ContrastErrors,
		Alerts:    counts.Alerts,
	})
}

func (s *MetricsService) populateFast(ctx context.Context, entry *model.MetricsCacheEntry) {
	if s.cache == nil {
		return
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return
	}
	key := fastMetricsKey(entry.ProjectID, entry.CacheKey)
	if err := s.cache.Set(ctx, key, encoded, s.fastTTL); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "populate fast metrics tier", "key", key, "error", err)
	}
}
