package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/data/pgxutil"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// IssueRepo stores per-run findings and answers the suppression-aware
// aggregation queries. Every aggregation reuses one query scaffold —
// latest-result join plus two suppression anti-joins plus distinct
// selector counting — so all call sites share identical suppression
// semantics.
type IssueRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewIssueRepo creates a new IssueRepo.
func NewIssueRepo(db *sql.DB, logger *slog.Logger) *IssueRepo {
	return &IssueRepo{DB: db, logger: logger}
}

var _ core.IssueRepository = (*IssueRepo)(nil)

// ReplaceSnapshot deletes then inserts all rows for the exact
// (url, viewport, tested_at) key. A test run is atomic: re-ingesting the
// same snapshot is idempotent and supersedes nothing else.
func (r *IssueRepo) ReplaceSnapshot(ctx context.Context, params core.SnapshotParams) error {
	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		key := []any{params.URLID, params.ViewportLabel, params.TestedAt.UTC()}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM issue_items
			WHERE url_id = $1 AND viewport_label = $2 AND tested_at = $3`, key...); err != nil {
			return fmt.Errorf("delete prior items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM issue_elements
			WHERE url_id = $1 AND viewport_label = $2 AND tested_at = $3`, key...); err != nil {
			return fmt.Errorf("delete prior elements: %w", err)
		}

		for i := range params.Items {
			item := &params.Items[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_items (url_id, viewport_label, item_id, category, description, count, tested_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				params.URLID, params.ViewportLabel, item.ItemID, item.Category,
				item.Description, item.Count, params.TestedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert item %s: %w", item.ItemID, err)
			}
		}

		for i := range params.Elements {
			el := &params.Elements[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_elements (url_id, viewport_label, item_id, category, selector_id, selector,
					contrast_ratio, foreground_color, background_color, large_text, tested_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				params.URLID, params.ViewportLabel, el.ItemID, el.Category,
				el.SelectorID, el.Selector, el.ContrastRatio, el.ForegroundColor,
				el.BackgroundColor, el.LargeText, params.TestedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert element for %s: %w", el.ItemID, err)
			}
		}
		return nil
	}})
}

// Stale snapshots from superseded runs are excluded by joining each
// element to the latest result per (url, viewport).
const latestRunSQL = `
		AND EXISTS (
			SELECT 1 FROM results res
			WHERE res.url_id = e.url_id AND res.viewport_label = e.viewport_label
			GROUP BY res.url_id, res.viewport_label
			HAVING MAX(res.tested_at) = e.tested_at
		)`

// Active suppressions are excluded via two anti-joins: item-level, then
// selector-level (a NULL viewport scopes the rule to all viewports).
const suppressionFilterSQL = `
		AND NOT EXISTS (
			SELECT 1 FROM suppressions sp
			WHERE sp.project_id = u.project_id
			  AND sp.item_id = e.item_id AND sp.category = e.category
		)
		AND NOT EXISTS (
			SELECT 1 FROM element_suppressions es
			WHERE es.project_id = u.project_id AND es.url_id = e.url_id
			  AND es.item_id = e.item_id AND es.category = e.category
			  AND es.selector = e.selector
			  AND (es.viewport_label IS NULL OR es.viewport_label = e.viewport_label)
		)`

// scopeFilters appends the optional URL/viewport/item filters for the
// given query. $1 is always the project id.
func scopeFilters(q model.UniqueCountQuery, alias string) (string, []any) {
	args := []any{q.ProjectID}
	var b strings.Builder

	if len(q.URLIDs) > 0 {
		args = append(args, q.URLIDs)
		fmt.Fprintf(&b, " AND %s.url_id = ANY($%d)", alias, len(args))
	}
	if len(q.ViewportLabels) > 0 {
		args = append(args, q.ViewportLabels)
		fmt.Fprintf(&b, " AND %s.viewport_label = ANY($%d)", alias, len(args))
	}
	if q.ItemID != "" {
		args = append(args, q.ItemID)
		fmt.Fprintf(&b, " AND %s.item_id = $%d", alias, len(args))
	}

	return b.String(), args
}

// elementScope builds the full suppression-aware WHERE fragment and args.
// The returned fragment starts with AND.
func elementScope(q model.UniqueCountQuery) (string, []any) {
	filters, args := scopeFilters(q, "e")
	return latestRunSQL + suppressionFilterSQL + filters, args
}

// selectorKeySQL dedups by interned selector id, falling back to the raw
// selector text for legacy rows without an assigned id.
const selectorKeySQL = `COALESCE(e.selector_id::text, e.selector)`

// UniqueCounts computes the suppression-aware distinct-selector tally per
// counted category. When no element-level data exists for the requested
// scope it falls back to the coarse per-item counts (tier < 4 legacy path).
func (r *IssueRepo) UniqueCounts(ctx context.Context, q model.UniqueCountQuery) (*model.UniqueCounts, error) {
	// The fallback decision is made before suppression filtering: a scope
	// whose elements are all suppressed still counts as having element
	// data (and yields zeros), it does not revert to coarse counts.
	hasElements, err := r.hasElementData(ctx, q)
	if err != nil {
		return nil, err
	}
	if !hasElements {
		return r.itemFallbackCounts(ctx, q)
	}

	scope, args := elementScope(q)
	rows, err := r.DB.QueryContext(ctx, `
		SELECT e.category, COUNT(DISTINCT `+selectorKeySQL+`)
		FROM issue_elements e
		JOIN urls u ON u.id = e.url_id
		WHERE u.project_id = $1`+scope+`
		GROUP BY e.category`, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	counts, _, err := collectCategoryCounts(rows)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *IssueRepo) hasElementData(ctx context.Context, q model.UniqueCountQuery) (bool, error) {
	filters, args := scopeFilters(q, "e")

	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM issue_elements e
			JOIN urls u ON u.id = e.url_id
			WHERE u.project_id = $1`+latestRunSQL+filters+`
		)`, args...).Scan(&exists)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return exists, nil
}

// itemFallbackCounts sums coarse per-item counts under the same latest-run
// and item-level suppression semantics. Selector-level suppression and
// dedup are not possible without element rows.
func (r *IssueRepo) itemFallbackCounts(ctx context.Context, q model.UniqueCountQuery) (*model.UniqueCounts, error) {
	filters, args := scopeFilters(q, "i")

	rows, err := r.DB.QueryContext(ctx, `
		SELECT i.category, COALESCE(SUM(i.count), 0)
		FROM issue_items i
		JOIN urls u ON u.id = i.url_id
		WHERE u.project_id = $1
		AND EXISTS (
			SELECT 1 FROM results res
			WHERE res.url_id = i.url_id AND res.viewport_label = i.viewport_label
			GROUP BY res.url_id, res.viewport_label
			HAVING MAX(res.tested_at) = i.tested_at
		)
		AND NOT EXISTS (
			SELECT 1 FROM suppressions sp
			WHERE sp.project_id = u.project_id
			  AND sp.item_id = i.item_id AND sp.category = i.category
		)`+filters+`
		GROUP BY i.category`, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	counts, _, err := collectCategoryCounts(rows)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func collectCategoryCounts(rows *sql.Rows) (*model.UniqueCounts, bool, error) {
	defer func() { _ = rows.Close() }()

	counts := &model.UniqueCounts{}
	found := false
	for rows.Next() {
		var category model.Category
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, false, err
		}
		found = true
		switch category {
		case model.CategoryError:
			counts.Errors = n
		case model.CategoryContrast:
			counts.ContrastErrors = n
		case model.CategoryAlert:
			counts.Alerts = n
		case model.CategoryFeature, model.CategoryStructure, model.CategoryARIA:
			// not part of the unique-count tally
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	counts.Total = counts.Errors + counts.ContrastErrors + counts.Alerts
	return counts, found, nil
}

// CategorySummary lists issue items with their suppression-aware unique
// instance and page counts.
func (r *IssueRepo) CategorySummary(ctx context.Context, q model.UniqueCountQuery) ([]*model.IssueSummaryRow, error) {
	scope, args := elementScope(q)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT e.item_id, e.category,
		       COALESCE(MAX(it.description), '') AS description,
		       COUNT(DISTINCT `+selectorKeySQL+`) AS unique_count,
		       COUNT(DISTINCT e.url_id) AS page_count
		FROM issue_elements e
		JOIN urls u ON u.id = e.url_id
		LEFT JOIN issue_items it
		  ON it.url_id = e.url_id AND it.viewport_label = e.viewport_label
		 AND it.tested_at = e.tested_at AND it.item_id = e.item_id AND it.category = e.category
		WHERE u.project_id = $1`+scope+`
		GROUP BY e.item_id, e.category
		ORDER BY unique_count DESC, e.item_id ASC`, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.IssueSummaryRow
	for rows.Next() {
		row := &model.IssueSummaryRow{}
		if err := rows.Scan(&row.ItemID, &row.Category, &row.Description, &row.UniqueCount, &row.PageCount); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// URLSummary tallies suppression-aware unique counts per URL.
func (r *IssueRepo) URLSummary(ctx context.Context, q model.UniqueCountQuery) ([]*model.URLSummaryRow, error) {
	scope, args := elementScope(q)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT e.url_id,
		       COUNT(DISTINCT `+selectorKeySQL+`) FILTER (WHERE e.category = 'error') AS errors,
		       COUNT(DISTINCT `+selectorKeySQL+`) FILTER (WHERE e.category = 'contrast') AS contrast_errors,
		       COUNT(DISTINCT `+selectorKeySQL+`) FILTER (WHERE e.category = 'alert') AS alerts
		FROM issue_elements e
		JOIN urls u ON u.id = e.url_id
		WHERE u.project_id = $1`+scope+`
		GROUP BY e.url_id
		ORDER BY e.url_id ASC`, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.URLSummaryRow
	for rows.Next() {
		row := &model.URLSummaryRow{}
		if err := rows.Scan(&row.URLID, &row.Errors, &row.ContrastErrors, &row.Alerts); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IssuePages lists the page occurrences of one issue item.
func (r *IssueRepo) IssuePages(ctx context.Context, q model.UniqueCountQuery) ([]*model.IssuePageRow, error) {
	scope, args := elementScope(q)

	rows, err := r.DB.QueryContext(ctx, `
		SELECT e.url_id, e.viewport_label, e.selector, COUNT(*) AS occurrences
		FROM issue_elements e
		JOIN urls u ON u.id = e.url_id
		WHERE u.project_id = $1`+scope+`
		GROUP BY e.url_id, e.viewport_label, e.selector
		ORDER BY e.url_id ASC, e.viewport_label ASC, e.selector ASC`, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.IssuePageRow
	for rows.Next() {
		row := &model.IssuePageRow{}
		if err := rows.Scan(&row.URLID, &row.ViewportLabel, &row.Selector, &row.Occurrences); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
