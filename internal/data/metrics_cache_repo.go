package data

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// MetricsCacheRepo is the durable tier of the two-tier metrics cache. It
// survives restarts and cache-store flushes; the fast tier lives in Redis.
type MetricsCacheRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// MetricsCacheRepoConfig holds optional configuration for the metrics
// cache repository.
type MetricsCacheRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewMetricsCacheRepo creates a new MetricsCacheRepo.
func NewMetricsCacheRepo(db *sql.DB, cfg MetricsCacheRepoConfig) *MetricsCacheRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MetricsCacheRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

var _ core.MetricsRepository = (*MetricsCacheRepo)(nil)

// Get retrieves one cache entry by its (project, key) pair.
func (r *MetricsCacheRepo) Get(ctx context.Context, projectID int64, cacheKey string) (*model.MetricsCacheEntry, error) {
	entry := &model.MetricsCacheEntry{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT project_id, cache_key, errors, contrast, alerts, updated_at
		FROM metrics_cache
		WHERE project_id = $1 AND cache_key = $2`, projectID, cacheKey,
	).Scan(&entry.ProjectID, &entry.CacheKey, &entry.Errors, &entry.Contrast, &entry.Alerts, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMetricsEntryNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return entry, nil
}

// Upsert writes a cache entry, replacing any previous value for the key.
func (r *MetricsCacheRepo) Upsert(ctx context.Context, entry *model.MetricsCacheEntry) error {
	if entry == nil {
		return errors.New("metrics cache entry is required")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO metrics_cache (project_id, cache_key, errors, contrast, alerts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, cache_key)
		DO UPDATE SET errors = EXCLUDED.errors,
		              contrast = EXCLUDED.contrast,
		              alerts = EXCLUDED.alerts,
		              updated_at = EXCLUDED.updated_at`,
		entry.ProjectID, entry.CacheKey, entry.Errors, entry.Contrast, entry.Alerts,
		r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Clear drops all cache entries of a project and returns how many were
// removed.
func (r *MetricsCacheRepo) Clear(ctx context.Context, projectID int64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM metrics_cache WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return res.RowsAffected()
}
