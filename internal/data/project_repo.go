package data

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// ProjectRepo provides project configuration and the guard flags that
// serialize asynchronous metrics recompute and selector backfill.
type ProjectRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewProjectRepo creates a new ProjectRepo.
func NewProjectRepo(db *sql.DB, logger *slog.Logger) *ProjectRepo {
	return &ProjectRepo{DB: db, logger: logger}
}

var _ core.ProjectRepository = (*ProjectRepo)(nil)

const projectColumns = `
  id,
  name,
  api_key,
  detail_tier,
  viewport_width,
  eval_delay_ms,
  user_agent,
  retry_attempts,
  retry_delay_ms,
  metrics_dirty,
  metrics_running,
  backfill_done,
  backfill_running,
  created_at,
  updated_at
`

// GetByID retrieves a project by its id.
func (r *ProjectRepo) GetByID(ctx context.Context, id int64) (*model.Project, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)

	project, err := scanProjectFromRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return project, nil
}

// List returns all projects ordered by name.
func (r *ProjectRepo) List(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY name ASC`)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*model.Project
	for rows.Next() {
		project, err := scanProjectFromRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}

// SetMetricsDirty marks whether the project's cached metrics are stale.
func (r *ProjectRepo) SetMetricsDirty(ctx context.Context, id int64, dirty bool) error {
	return r.setFlag(ctx, id, `UPDATE projects SET metrics_dirty = $2, updated_at = now() WHERE id = $1`, dirty)
}

// TrySetMetricsRunning flips metrics_running false->true atomically;
// reports false when a recompute is already in flight.
func (r *ProjectRepo) TrySetMetricsRunning(ctx context.Context, id int64) (bool, error) {
	return r.tryAcquire(ctx, id, `
		UPDATE projects
		SET metrics_running = true, updated_at = now()
		WHERE id = $1 AND metrics_running = false`)
}

// ClearMetricsRunning releases the metrics recompute guard.
func (r *ProjectRepo) ClearMetricsRunning(ctx context.Context, id int64) error {
	return r.setFlag(ctx, id, `UPDATE projects SET metrics_running = $2, updated_at = now() WHERE id = $1`, false)
}

// TrySetBackfillRunning flips backfill_running false->true atomically;
// reports false when a backfill pass is already in flight.
func (r *ProjectRepo) TrySetBackfillRunning(ctx context.Context, id int64) (bool, error) {
	return r.tryAcquire(ctx, id, `
		UPDATE projects
		SET backfill_running = true, updated_at = now()
		WHERE id = $1 AND backfill_running = false`)
}

// ClearBackfillRunning releases the backfill guard.
func (r *ProjectRepo) ClearBackfillRunning(ctx context.Context, id int64) error {
	return r.setFlag(ctx, id, `UPDATE projects SET backfill_running = $2, updated_at = now() WHERE id = $1`, false)
}

// SetBackfillDone marks the selector backfill as complete so the scheduler
// stops requesting passes.
func (r *ProjectRepo) SetBackfillDone(ctx context.Context, id int64) error {
	return r.setFlag(ctx, id, `UPDATE projects SET backfill_done = $2, updated_at = now() WHERE id = $1`, true)
}

func (r *ProjectRepo) setFlag(ctx context.Context, id int64, query string, value bool) error {
	res, err := r.DB.ExecContext(ctx, query, id, value)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepo) tryAcquire(ctx context.Context, id int64, query string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return oneRowAffected(res)
}

func scanProjectFromRow(scanner jobRowScanner) (*model.Project, error) {
	project := &model.Project{}
	var evalDelayMS, retryDelayMS int64
	if err := scanner.Scan(
		&project.ID,
		&project.Name,
		&project.APIKey,
		&project.DetailTier,
		&project.ViewportWidth,
		&evalDelayMS,
		&project.UserAgent,
		&project.RetryAttempts,
		&retryDelayMS,
		&project.MetricsDirty,
		&project.MetricsRunning,
		&project.BackfillDone,
		&project.BackfillRunning,
		&project.CreatedAt,
		&project.UpdatedAt,
	); err != nil {
		return nil, err
	}
	project.EvalDelay = time.Duration(evalDelayMS) * time.Millisecond
	project.RetryDelay = time.Duration(retryDelayMS) * time.Millisecond
	return project, nil
}

// URLRepo resolves monitored URLs.
type URLRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewURLRepo creates a new URLRepo.
func NewURLRepo(db *sql.DB, logger *slog.Logger) *URLRepo {
	return &URLRepo{DB: db, logger: logger}
}

var _ core.URLRepository = (*URLRepo)(nil)

// GetByID retrieves a monitored URL by its id.
func (r *URLRepo) GetByID(ctx context.Context, id int64) (*model.MonitoredURL, error) {
	u := &model.MonitoredURL{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, project_id, address, label, created_at
		FROM urls WHERE id = $1`, id,
	).Scan(&u.ID, &u.ProjectID, &u.Address, &u.Label, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrURLNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return u, nil
}

// ListByProject lists a project's monitored URLs ordered by address.
func (r *URLRepo) ListByProject(ctx context.Context, projectID int64) ([]*model.MonitoredURL, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, project_id, address, label, created_at
		FROM urls
		WHERE project_id = $1
		ORDER BY address ASC`, projectID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.MonitoredURL
	for rows.Next() {
		u := &model.MonitoredURL{}
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Address, &u.Label, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ViewportRepo lists the named scan configurations of a project.
type ViewportRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewViewportRepo creates a new ViewportRepo.
func NewViewportRepo(db *sql.DB, logger *slog.Logger) *ViewportRepo {
	return &ViewportRepo{DB: db, logger: logger}
}

var _ core.ViewportRepository = (*ViewportRepo)(nil)

// ListByProject lists a project's viewports ordered by label.
func (r *ViewportRepo) ListByProject(ctx context.Context, projectID int64) ([]*model.Viewport, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, project_id, label, width, created_at
		FROM viewports
		WHERE project_id = $1
		ORDER BY label ASC`, projectID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Viewport
	for rows.Next() {
		v := &model.Viewport{}
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Label, &v.Width, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
