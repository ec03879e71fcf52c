package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// JobRepo provides database operations for queue management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// JobRepoConfig holds optional configuration for the job repository.
type JobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewJobRepo creates a new JobRepo instance with the given database connection.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

var _ core.JobRepository = (*JobRepo)(nil)

const jobColumns = `
  id,
  type,
  url_id,
  project_id,
  status,
  payload,
  error_message,
  created_at,
  started_at,
  finished_at
`

// SQL used by ClaimBatch to atomically claim pending jobs in FIFO order.
// FOR UPDATE SKIP LOCKED ensures two concurrent claimers never take the
// same row.
const claimBatchSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending' AND ($1::bigint = 0 OR project_id = $1)
    ORDER BY created_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET status = 'running', started_at = COALESCE(j.started_at, $3)
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.url_id, j.project_id, j.status, j.payload, j.error_message, j.created_at, j.started_at, j.finished_at`

// Create enqueues a new job.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO jobs (type, url_id, project_id, status, payload, created_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING `+jobColumns,
		req.Type, req.URLID, req.ProjectID, payload, r.timeProvider.Now().UTC(),
	)

	job, err := scanJobFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// GetByID retrieves a job by its id.
func (r *JobRepo) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)

	job, err := scanJobFromRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// FetchPending lists pending jobs FIFO by created_at without claiming them.
func (r *JobRepo) FetchPending(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectJobs(rows)
}

// ClaimBatch atomically transitions up to Limit pending jobs to running and
// returns them in created_at order.
func (r *JobRepo) ClaimBatch(ctx context.Context, params core.ClaimBatchParams) ([]*model.Job, error) {
	if params.Limit <= 0 {
		return nil, nil
	}

	rows, err := r.DB.QueryContext(ctx, claimBatchSQL,
		params.ProjectID, params.Limit, r.timeProvider.Now().UTC())
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	// The UPDATE ... FROM form does not honor the CTE's ordering.
	sortJobsByCreatedAt(jobs)
	return jobs, nil
}

// MarkRunning performs a compare-and-swap pending->running.
func (r *JobRepo) MarkRunning(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', started_at = COALESCE(started_at, $2)
		WHERE id = $1 AND status = 'pending'`,
		id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// MarkComplete transitions a running job to completed.
func (r *JobRepo) MarkComplete(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', finished_at = $2, error_message = NULL
		WHERE id = $1 AND status = 'running'`,
		id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// MarkFailed transitions a running job to failed, recording a
// human-readable message. Failed jobs are never re-queued automatically.
func (r *JobRepo) MarkFailed(ctx context.Context, id int64, message string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', finished_at = $2, error_message = $3
		WHERE id = $1 AND status = 'running'`,
		id, r.timeProvider.Now().UTC(), message)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// RunningCount returns how many jobs are currently running.
func (r *JobRepo) RunningCount(ctx context.Context) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = 'running'`).Scan(&count)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return count, nil
}

// Stats returns job counts per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.QueueSummary, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	summary := &model.QueueSummary{}
	for rows.Next() {
		var status model.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary.Total += count
		switch status {
		case model.JobStatusPending:
			summary.Pending = count
		case model.JobStatusRunning:
			summary.Running = count
		case model.JobStatusFailed:
			summary.Failed = count
		case model.JobStatusCompleted:
			// counted in Total only
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

// Clear bulk-deletes all jobs not currently running.
func (r *JobRepo) Clear(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE status <> 'running'`)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return res.RowsAffected()
}

func oneRowAffected(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func sortJobsByCreatedAt(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var (
		payload    []byte
		errMsg     sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Type,
		&job.URLID,
		&job.ProjectID,
		&job.Status,
		&payload,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}

	job.Payload = append(json.RawMessage(nil), payload...)
	job.ErrorMessage = cloneNullableString(errMsg)
	job.StartedAt = cloneNullableTime(startedAt)
	job.FinishedAt = cloneNullableTime(finishedAt)
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
