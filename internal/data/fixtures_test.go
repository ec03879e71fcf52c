package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/accesswatch/accesswatch/internal/domain/model"
)

func seedProject(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowContext(context.Background(), `
		INSERT INTO projects (name, api_key) VALUES ($1, 'test-key')
		RETURNING id`, name).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedURL(t *testing.T, db *sql.DB, projectID int64, address string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowContext(context.Background(), `
		INSERT INTO urls (project_id, address) VALUES ($1, $2)
		RETURNING id`, projectID, address).Scan(&id)
	require.NoError(t, err)
	return id
}

// markLatestRun records a result snapshot so aggregation queries treat
// testedAt as the most recent run for the (url, viewport) pair.
func markLatestRun(t *testing.T, db *sql.DB, urlID int64, viewport string, testedAt time.Time) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO results (url_id, viewport_label, tested_at)
		VALUES ($1, $2, $3)`, urlID, viewport, testedAt.UTC())
	require.NoError(t, err)
}

func internedElement(itemID string, category model.Category, selectorID int64, selector string) model.IssueElement {
	return model.IssueElement{
		ItemID:     itemID,
		Category:   category,
		SelectorID: &selectorID,
		Selector:   selector,
	}
}

func legacyElement(itemID string, category model.Category, selector string) model.IssueElement {
	return model.IssueElement{ItemID: itemID, Category: category, Selector: selector}
}
