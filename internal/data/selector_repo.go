package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/data/pgxutil"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// SelectorRepo implements the append-only selector dictionary.
type SelectorRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewSelectorRepo creates a new SelectorRepo.
func NewSelectorRepo(db *sql.DB, logger *slog.Logger) *SelectorRepo {
	return &SelectorRepo{DB: db, logger: logger}
}

var _ core.SelectorRepository = (*SelectorRepo)(nil)

// GetOrCreate interns a selector text keyed by its content hash. On a
// losing race against a concurrent insert the winner's id is re-read, so
// the dictionary stays collision-safe without external locking.
func (r *SelectorRepo) GetOrCreate(ctx context.Context, text string) (int64, error) {
	hash := model.SelectorHash(text)

	var id int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT id FROM selectors WHERE hash = $1`, hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.MapDBError(err)
	}

	err = r.DB.QueryRowContext(ctx, `
		INSERT INTO selectors (selector_text, hash)
		VALUES ($1, $2)
		RETURNING id`, text, hash).Scan(&id)
	if err == nil {
		return id, nil
	}

	// Duplicate-hash conflict: a concurrent caller inserted first.
	if apperrors.IsUniqueViolation(err) {
		if rereadErr := r.DB.QueryRowContext(ctx,
			`SELECT id FROM selectors WHERE hash = $1`, hash).Scan(&id); rereadErr != nil {
			return 0, fmt.Errorf("re-read selector after conflict: %w", rereadErr)
		}
		return id, nil
	}

	return 0, apperrors.MapDBError(err)
}

// GetByHash looks up a selector row by its content hash.
func (r *SelectorRepo) GetByHash(ctx context.Context, hash string) (*model.Selector, error) {
	sel := &model.Selector{}
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, selector_text, hash FROM selectors WHERE hash = $1`, hash,
	).Scan(&sel.ID, &sel.Text, &sel.Hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSelectorNotFound
		}
		return nil, apperrors.MapDBError(err)
	}
	return sel, nil
}

// BackfillElements retroactively assigns selector ids to legacy element
// rows that predate interning, in bounded batches so the operation can be
// scheduled repeatedly until no unassigned rows remain.
func (r *SelectorRepo) BackfillElements(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}

	// Two statements in one transaction: intern any selector text in the
	// batch that is missing from the dictionary, then attach ids. The
	// insert happens first because a data-modifying CTE's rows would not
	// be visible to a sibling join on the same table. ON CONFLICT DO
	// NOTHING tolerates races with concurrent ingestion.
	var updated int64
	txErr := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO selectors (selector_text, hash)
			SELECT DISTINCT selector, encode(sha256(selector::bytea), 'hex')
			FROM (
				SELECT selector
				FROM issue_elements
				WHERE selector_id IS NULL AND selector <> ''
				ORDER BY id
				LIMIT $1
			) batch
			ON CONFLICT (hash) DO NOTHING`, limit); err != nil {
			return fmt.Errorf("intern batch selectors: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE issue_elements e
			SET selector_id = s.id
			FROM (
				SELECT id, selector
				FROM issue_elements
				WHERE selector_id IS NULL AND selector <> ''
				ORDER BY id
				LIMIT $1
			) b
			JOIN selectors s ON s.hash = encode(sha256(b.selector::bytea), 'hex')
			WHERE e.id = b.id`, limit)
		if err != nil {
			return fmt.Errorf("assign selector ids: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		updated = ra
		return nil
	}})
	if txErr != nil {
		return 0, apperrors.MapDBError(txErr)
	}

	if r.logger != nil && updated > 0 {
		r.logger.DebugContext(ctx, "selector backfill batch", "updated", updated)
	}
	return updated, nil
}
