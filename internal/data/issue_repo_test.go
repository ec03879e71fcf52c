package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	"github.com/accesswatch/accesswatch/internal/testutil"
)

func TestUniqueCountsExcludesSuppressedItems(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		issues := NewIssueRepo(db, nil)
		selectors := NewSelectorRepo(db, nil)
		suppressions := NewSuppressionRepo(db, nil)

		projectID := seedProject(t, db, "suppress-project")
		urlA := seedURL(t, db, projectID, "https://a.example.com")
		urlB := seedURL(t, db, projectID, "https://b.example.com")
		testedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		altID, err := selectors.GetOrCreate(ctx, ".hero img")
		require.NoError(t, err)
		ctaID, err := selectors.GetOrCreate(ctx, ".nav > a.cta")
		require.NoError(t, err)
		labelID, err := selectors.GetOrCreate(ctx, "form input.email")
		require.NoError(t, err)

		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlA,
			ViewportLabel: "desktop",
			TestedAt:      testedAt,
			Items: []model.IssueItem{
				{ItemID: "alt_missing", Category: model.CategoryError, Description: "Missing alternative text", Count: 1},
				{ItemID: "label_missing", Category: model.CategoryError, Description: "Missing form label", Count: 1},
			},
			Elements: []model.IssueElement{
				internedElement("alt_missing", model.CategoryError, altID, ".hero img"),
				internedElement("label_missing", model.CategoryError, labelID, "form input.email"),
				internedElement("contrast", model.CategoryContrast, ctaID, ".nav > a.cta"),
			},
		}))
		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlB,
			ViewportLabel: "desktop",
			TestedAt:      testedAt,
			Items: []model.IssueItem{
				{ItemID: "alt_missing", Category: model.CategoryError, Description: "Missing alternative text", Count: 1},
			},
			Elements: []model.IssueElement{
				internedElement("alt_missing", model.CategoryError, altID, ".hero img"),
			},
		}))
		markLatestRun(t, db, urlA, "desktop", testedAt)
		markLatestRun(t, db, urlB, "desktop", testedAt)

		query := model.UniqueCountQuery{ProjectID: projectID}

		before, err := issues.UniqueCounts(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, 2, before.Errors)
		assert.Equal(t, 1, before.ContrastErrors)

		_, err = suppressions.Upsert(ctx, &model.Suppression{
			ProjectID: projectID,
			ItemID:    "alt_missing",
			Category:  model.CategoryError,
			Reason:    "decorative imagery",
		})
		require.NoError(t, err)

		// The suppressed pair disappears from every aggregation query.
		after, err := issues.UniqueCounts(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, 1, after.Errors)
		assert.Equal(t, 1, after.ContrastErrors)

		summary, err := issues.CategorySummary(ctx, query)
		require.NoError(t, err)
		for _, row := range summary {
			assert.NotEqual(t, "alt_missing", row.ItemID)
		}

		urls, err := issues.URLSummary(ctx, query)
		require.NoError(t, err)
		perURL := make(map[int64]*model.URLSummaryRow, len(urls))
		for _, row := range urls {
			perURL[row.URLID] = row
		}
		if row, ok := perURL[urlA]; assert.True(t, ok) {
			assert.Equal(t, 1, row.Errors)
			assert.Equal(t, 1, row.ContrastErrors)
		}
		if row, ok := perURL[urlB]; ok {
			assert.Zero(t, row.Errors)
		}

		pages, err := issues.IssuePages(ctx, model.UniqueCountQuery{
			ProjectID: projectID, ItemID: "alt_missing",
		})
		require.NoError(t, err)
		assert.Empty(t, pages)
	})
}

func TestUniqueCountsExcludesStaleSnapshots(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		issues := NewIssueRepo(db, nil)
		selectors := NewSelectorRepo(db, nil)

		projectID := seedProject(t, db, "stale-project")
		urlID := seedURL(t, db, projectID, "https://stale.example.com")
		firstRun := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
		secondRun := firstRun.Add(6 * time.Hour)

		heroID, err := selectors.GetOrCreate(ctx, ".hero img")
		require.NoError(t, err)
		footerID, err := selectors.GetOrCreate(ctx, "#footer img")
		require.NoError(t, err)

		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlID,
			ViewportLabel: "desktop",
			TestedAt:      firstRun,
			Elements: []model.IssueElement{
				internedElement("alt_missing", model.CategoryError, heroID, ".hero img"),
				internedElement("alt_missing", model.CategoryError, footerID, "#footer img"),
			},
		}))
		markLatestRun(t, db, urlID, "desktop", firstRun)

		query := model.UniqueCountQuery{ProjectID: projectID}
		counts, err := issues.UniqueCounts(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, 2, counts.Errors)

		// A newer run fixed the footer image; the first run's rows are
		// superseded even though they remain in the table.
		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlID,
			ViewportLabel: "desktop",
			TestedAt:      secondRun,
			Elements: []model.IssueElement{
				internedElement("alt_missing", model.CategoryError, heroID, ".hero img"),
			},
		}))
		markLatestRun(t, db, urlID, "desktop", secondRun)

		counts, err = issues.UniqueCounts(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Errors)
	})
}

func TestUniqueCountsDedupByInternedSelector(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		issues := NewIssueRepo(db, nil)
		selectors := NewSelectorRepo(db, nil)

		projectID := seedProject(t, db, "dedup-project")
		urlA := seedURL(t, db, projectID, "https://a.example.com")
		urlB := seedURL(t, db, projectID, "https://b.example.com")
		testedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		sharedID, err := selectors.GetOrCreate(ctx, ".shared-banner img")
		require.NoError(t, err)

		// The same interned occurrence on two pages counts once; the
		// legacy row without an id contributes its raw text as the key.
		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlA,
			ViewportLabel: "desktop",
			TestedAt:      testedAt,
			Elements: []model.IssueElement{
				internedElement("alt_missing", model.CategoryError, sharedID, ".shared-banner img"),
			},
		}))
		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlB,
			ViewportLabel: "desktop",
			TestedAt:      testedAt,
			Elements: []model.IssueElement{
				internedElement("alt_missing", model.CategoryError, sharedID, ".shared-banner img"),
				legacyElement("alt_missing", model.CategoryError, "aside img.promo"),
			},
		}))
		markLatestRun(t, db, urlA, "desktop", testedAt)
		markLatestRun(t, db, urlB, "desktop", testedAt)

		counts, err := issues.UniqueCounts(ctx, model.UniqueCountQuery{ProjectID: projectID})
		require.NoError(t, err)
		assert.Equal(t, 2, counts.Errors)
	})
}

func TestUniqueCountsItemFallbackWithoutElements(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		issues := NewIssueRepo(db, nil)
		suppressions := NewSuppressionRepo(db, nil)

		projectID := seedProject(t, db, "fallback-project")
		urlID := seedURL(t, db, projectID, "https://coarse.example.com")
		testedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		// A low-tier report only carries per-item counts.
		require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
			URLID:         urlID,
			ViewportLabel: "desktop",
			TestedAt:      testedAt,
			Items: []model.IssueItem{
				{ItemID: "alt_missing", Category: model.CategoryError, Count: 3},
				{ItemID: "heading_skipped", Category: model.CategoryAlert, Count: 2},
			},
		}))
		markLatestRun(t, db, urlID, "desktop", testedAt)

		query := model.UniqueCountQuery{ProjectID: projectID}
		counts, err := issues.UniqueCounts(ctx, query)
		require.NoError(t, err)
		assert.Equal(t, 3, counts.Errors)
		assert.Equal(t, 2, counts.Alerts)

		// Item-level suppression applies on the fallback path too.
		_, err = suppressions.Upsert(ctx, &model.Suppression{
			ProjectID: projectID,
			ItemID:    "alt_missing",
			Category:  model.CategoryError,
		})
		require.NoError(t, err)

		counts, err = issues.UniqueCounts(ctx, query)
		require.NoError(t, err)
		assert.Zero(t, counts.Errors)
		assert.Equal(t, 2, counts.Alerts)
	})
}

func TestElementSuppressionScopesByViewport(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		issues := NewIssueRepo(db, nil)
		selectors := NewSelectorRepo(db, nil)
		suppressions := NewSuppressionRepo(db, nil)

		projectID := seedProject(t, db, "viewport-project")
		urlID := seedURL(t, db, projectID, "https://vp.example.com")
		testedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

		ctaID, err := selectors.GetOrCreate(ctx, ".nav > a.cta")
		require.NoError(t, err)

		for _, viewport := range []string{"desktop", "mobile"} {
			require.NoError(t, issues.ReplaceSnapshot(ctx, core.SnapshotParams{
				URLID:         urlID,
				ViewportLabel: viewport,
				TestedAt:      testedAt,
				Elements: []model.IssueElement{
					internedElement("contrast", model.CategoryContrast, ctaID, ".nav > a.cta"),
				},
			}))
			markLatestRun(t, db, urlID, viewport, testedAt)
		}

		desktop := "desktop"
		_, err = suppressions.UpsertElement(ctx, &model.ElementSuppression{
			ProjectID:     projectID,
			URLID:         urlID,
			ViewportLabel: &desktop,
			ItemID:        "contrast",
			Category:      model.CategoryContrast,
			Selector:      ".nav > a.cta",
		})
		require.NoError(t, err)

		// Only the desktop occurrence is excluded; mobile still counts.
		counts, err := issues.UniqueCounts(ctx, model.UniqueCountQuery{
			ProjectID: projectID, ViewportLabels: []string{"desktop"},
		})
		require.NoError(t, err)
		assert.Zero(t, counts.ContrastErrors)

		counts, err = issues.UniqueCounts(ctx, model.UniqueCountQuery{
			ProjectID: projectID, ViewportLabels: []string{"mobile"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, counts.ContrastErrors)

		// A rule without a viewport applies everywhere.
		_, err = suppressions.UpsertElement(ctx, &model.ElementSuppression{
			ProjectID: projectID,
			URLID:     urlID,
			ItemID:    "contrast",
			Category:  model.CategoryContrast,
			Selector:  ".nav > a.cta",
		})
		require.NoError(t, err)

		counts, err = issues.UniqueCounts(ctx, model.UniqueCountQuery{ProjectID: projectID})
		require.NoError(t, err)
		assert.Zero(t, counts.ContrastErrors)
	})
}
