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

// ResultRepo stores the append-only per-test result snapshots.
type ResultRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// ResultRepoConfig holds optional configuration for the result repository.
type ResultRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewResultRepo creates a new ResultRepo instance with the given database connection.
func NewResultRepo(db *sql.DB, cfg ResultRepoConfig) *ResultRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ResultRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

var _ core.ResultRepository = (*ResultRepo)(nil)

const resultColumns = `
  id,
  url_id,
  viewport_label,
  tested_at,
  run_id,
  aim_score,
  errors,
  contrast_errors,
  alerts,
  features,
  structure,
  aria,
  total_elements,
  unique_errors,
  unique_contrast_errors,
  unique_alerts,
  page_title,
  final_url,
  report_url,
  created_at
`

// Insert appends a new result snapshot. Snapshots are never updated in
// place except for the unique-count columns, which are filled in after
// aggregation.
func (r *ResultRepo) Insert(ctx context.Context, result *model.Result) (*model.Result, error) {
	if result == nil {
		return nil, errors.New("result is required")
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO results (
			url_id, viewport_label, tested_at, run_id, aim_score,
			errors, contrast_errors, alerts, features, structure, aria, total_elements,
			unique_errors, unique_contrast_errors, unique_alerts,
			page_title, final_url, report_url, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+resultColumns,
		result.URLID, result.ViewportLabel, result.TestedAt.UTC(), result.RunID, result.AIMScore,
		result.Errors, result.ContrastErrors, result.Alerts,
		result.Features, result.Structure, result.ARIA, result.TotalElements,
		result.UniqueErrors, result.UniqueContrastErrors, result.UniqueAlerts,
		result.PageTitle, result.FinalURL, result.ReportURL, r.timeProvider.Now().UTC(),
	)

	inserted, err := scanResultFromRow(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return inserted, nil
}

// Latest returns the most recent snapshot for a (url, viewport) pair.
func (r *ResultRepo) Latest(ctx context.Context, urlID int64, viewportLabel string) (*model.Result, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+resultColumns+`
		FROM results
		WHERE url_id = $1 AND viewport_label = $2
		ORDER BY tested_at DESC
		LIMIT 1`, urlID, viewportLabel)

	result, err := scanResultFromRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// UpdateUniqueCounts fills in the suppression-aware unique counts computed
// after ingestion.
func (r *ResultRepo) UpdateUniqueCounts(ctx context.Context, id int64, counts model.UniqueCounts) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE results
		SET unique_errors = $2, unique_contrast_errors = $3, unique_alerts = $4
		WHERE id = $1`,
		id, counts.Errors, counts.ContrastErrors, counts.Alerts)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrResultNotFound
	}
	return nil
}

func scanResultFromRow(scanner jobRowScanner) (*model.Result, error) {
	result := &model.Result{}
	var (
		runID          sql.NullString
		uniqueErrors   sql.NullInt64
		uniqueContrast sql.NullInt64
		uniqueAlerts   sql.NullInt64
	)
	if err := scanner.Scan(
		&result.ID,
		&result.URLID,
		&result.ViewportLabel,
		&result.TestedAt,
		&runID,
		&result.AIMScore,
		&result.Errors,
		&result.ContrastErrors,
		&result.Alerts,
		&result.Features,
		&result.Structure,
		&result.ARIA,
		&result.TotalElements,
		&uniqueErrors,
		&uniqueContrast,
		&uniqueAlerts,
		&result.PageTitle,
		&result.FinalURL,
		&result.ReportURL,
		&result.CreatedAt,
	); err != nil {
		return nil, err
	}

	result.RunID = cloneNullableString(runID)
	result.UniqueErrors = cloneNullableInt(uniqueErrors)
	result.UniqueContrastErrors = cloneNullableInt(uniqueContrast)
	result.UniqueAlerts = cloneNullableInt(uniqueAlerts)
	return result, nil
}

func cloneNullableInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}
