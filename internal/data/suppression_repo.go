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

// SuppressionRepo manages item- and selector-level suppression rules.
type SuppressionRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewSuppressionRepo creates a new SuppressionRepo.
func NewSuppressionRepo(db *sql.DB, logger *slog.Logger) *SuppressionRepo {
	return &SuppressionRepo{DB: db, logger: logger}
}

var _ core.SuppressionRepository = (*SuppressionRepo)(nil)

// Upsert creates or refreshes an item-level suppression. Suppressing an
// already suppressed (item, category) pair updates the reason in place.
func (r *SuppressionRepo) Upsert(ctx context.Context, s *model.Suppression) (*model.Suppression, error) {
	if s == nil {
		return nil, errors.New("suppression is required")
	}

	out := &model.Suppression{}
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO suppressions (project_id, item_id, category, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, item_id, category)
		DO UPDATE SET reason = EXCLUDED.reason
		RETURNING id, project_id, item_id, category, reason, created_at`,
		s.ProjectID, s.ItemID, s.Category, s.Reason,
	).Scan(&out.ID, &out.ProjectID, &out.ItemID, &out.Category, &out.Reason, &out.CreatedAt)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// Delete removes an item-level suppression; reports whether a rule existed.
// Removal is not retroactive: previously recomputed unique counts keep
// their stored values until the next ingestion or metrics recompute.
func (r *SuppressionRepo) Delete(ctx context.Context, params core.DeleteSuppressionParams) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM suppressions
		WHERE project_id = $1 AND item_id = $2 AND category = $3`,
		params.ProjectID, params.ItemID, params.Category)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// ListByProject lists all item-level suppressions of a project.
func (r *SuppressionRepo) ListByProject(ctx context.Context, projectID int64) ([]*model.Suppression, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, project_id, item_id, category, reason, created_at
		FROM suppressions
		WHERE project_id = $1
		ORDER BY item_id ASC, category ASC`, projectID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Suppression
	for rows.Next() {
		s := &model.Suppression{}
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.ItemID, &s.Category, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveKeys returns the item-level suppression set as a lookup map for
// ingestion-time filtering.
func (r *SuppressionRepo) ActiveKeys(ctx context.Context, projectID int64) (map[model.SuppressionKey]struct{}, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT item_id, category
		FROM suppressions
		WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[model.SuppressionKey]struct{})
	for rows.Next() {
		var key model.SuppressionKey
		if err := rows.Scan(&key.ItemID, &key.Category); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// UpsertElement creates a selector-level suppression. A nil viewport label
// scopes the rule to all viewports of the URL.
func (r *SuppressionRepo) UpsertElement(ctx context.Context, s *model.ElementSuppression) (*model.ElementSuppression, error) {
	if s == nil {
		return nil, errors.New("element suppression is required")
	}

	out := &model.ElementSuppression{}
	var viewport sql.NullString
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO element_suppressions (project_id, url_id, viewport_label, item_id, category, selector, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, project_id, url_id, viewport_label, item_id, category, selector, reason, created_at`,
		s.ProjectID, s.URLID, s.ViewportLabel, s.ItemID, s.Category, s.Selector, s.Reason,
	).Scan(&out.ID, &out.ProjectID, &out.URLID, &viewport,
		&out.ItemID, &out.Category, &out.Selector, &out.Reason, &out.CreatedAt)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	out.ViewportLabel = cloneNullableString(viewport)
	return out, nil
}

// DeleteElement removes a selector-level suppression by id.
func (r *SuppressionRepo) DeleteElement(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM element_suppressions WHERE id = $1`, id)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// ListElementsByProject lists all selector-level suppressions of a project.
func (r *SuppressionRepo) ListElementsByProject(ctx context.Context, projectID int64) ([]*model.ElementSuppression, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, project_id, url_id, viewport_label, item_id, category, selector, reason, created_at
		FROM element_suppressions
		WHERE project_id = $1
		ORDER BY id ASC`, projectID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ElementSuppression
	for rows.Next() {
		s := &model.ElementSuppression{}
		var viewport sql.NullString
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.URLID, &viewport,
			&s.ItemID, &s.Category, &s.Selector, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.ViewportLabel = cloneNullableString(viewport)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
