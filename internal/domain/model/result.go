package model

import "time"

// Result is one per-test snapshot. Rows are append-only; "latest" is
// derived by max(tested_at) per (url, viewport).
type Result struct {
	ID            int64     `json:"id"               db:"id"`
	URLID         int64     `json:"url_id"           db:"url_id"`
	ViewportLabel string    `json:"viewport_label"   db:"viewport_label"`
	TestedAt      time.Time `json:"tested_at"        db:"tested_at"`
	RunID         *string   `json:"run_id,omitempty" db:"run_id"`

	AIMScore       float64 `json:"aim_score"       db:"aim_score"`
	Errors         int     `json:"errors"          db:"errors"`
	ContrastErrors int     `json:"contrast_errors" db:"contrast_errors"`
	Alerts         int     `json:"alerts"          db:"alerts"`
	Features       int     `json:"features"        db:"features"`
	Structure      int     `json:"structure"       db:"structure"`
	ARIA           int     `json:"aria"            db:"aria"`
	TotalElements  int     `json:"total_elements"  db:"total_elements"`

	// Suppression-aware unique counts, recomputed at ingestion so dashboard
	// summaries reflect suppressions even though the raw API counts do not.
	UniqueErrors         *int `json:"unique_errors,omitempty"          db:"unique_errors"`
	UniqueContrastErrors *int `json:"unique_contrast_errors,omitempty" db:"unique_contrast_errors"`
	UniqueAlerts         *int `json:"unique_alerts,omitempty"          db:"unique_alerts"`

	PageTitle string    `json:"page_title" db:"page_title"`
	FinalURL  string    `json:"final_url"  db:"final_url"`
	ReportURL string    `json:"report_url" db:"report_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UniqueCounts is the suppression-aware distinct-selector tally per
// counted category.
type UniqueCounts struct {
	Errors         int `json:"errors"`
	ContrastErrors int `json:"contrast_errors"`
	Alerts         int `json:"alerts"`
	Total          int `json:"total"`
}

// ForCategory returns the count for one counted category.
func (u UniqueCounts) ForCategory(c Category) int {
	switch c {
	case CategoryError:
		return u.Errors
	case CategoryContrast:
		return u.ContrastErrors
	case CategoryAlert:
		return u.Alerts
	default:
		return 0
	}
}

// UniqueCountQuery scopes a suppression-aware aggregation query.
type UniqueCountQuery struct {
	ProjectID int64
	// URLIDs limits the query to specific URLs; empty means all project URLs.
	URLIDs []int64
	// ViewportLabels limits the query to specific viewports; empty means all.
	ViewportLabels []string
	// ItemID limits the query to one issue item (per-issue page listings).
	ItemID string
}

// IssueSummaryRow is one line of a per-category summary.
type IssueSummaryRow struct {
	ItemID      string   `json:"item_id"     db:"item_id"`
	Category    Category `json:"category"    db:"category"`
	Description string   `json:"description" db:"description"`
	UniqueCount int      `json:"unique_count" db:"unique_count"`
	PageCount   int      `json:"page_count"   db:"page_count"`
}

// URLSummaryRow is one line of a per-URL summary.
type URLSummaryRow struct {
	URLID          int64 `json:"url_id"          db:"url_id"`
	Errors         int   `json:"errors"          db:"errors"`
	ContrastErrors int   `json:"contrast_errors" db:"contrast_errors"`
	Alerts         int   `json:"alerts"          db:"alerts"`
}

// IssuePageRow is one page occurrence of an issue item.
type IssuePageRow struct {
	URLID         int64  `json:"url_id"         db:"url_id"`
	ViewportLabel string `json:"viewport_label" db:"viewport_label"`
	Selector      string `json:"selector"       db:"selector"`
	Occurrences   int    `json:"occurrences"    db:"occurrences"`
}
