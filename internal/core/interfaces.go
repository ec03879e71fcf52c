// Package core defines the repository interfaces (ports) that connect the
// service layer to the data layer. Services depend on these contracts, not
// on concrete implementations.
package core

import (
	"context"
	"time"

	"github.com/accesswatch/accesswatch/internal/domain/model"
)

// ClaimBatchParams scopes an atomic claim of pending jobs.
type ClaimBatchParams struct {
	ProjectID int64 // 0 means any project
	Limit     int
}

// JobRepository defines the queue's durable operations. Claiming is a
// single atomic conditional update so a job can never be claimed twice.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	// FetchPending lists pending jobs FIFO by created_at without claiming them.
	FetchPending(ctx context.Context, limit int) ([]*model.Job, error)
	// ClaimBatch atomically transitions up to Limit pending jobs to running
	// (FOR UPDATE SKIP LOCKED) and returns them in created_at order.
	ClaimBatch(ctx context.Context, params ClaimBatchParams) ([]*model.Job, error)
	// MarkRunning performs a compare-and-swap pending->running; reports
	// whether the row was transitioned.
	MarkRunning(ctx context.Context, id int64) (bool, error)
	MarkComplete(ctx context.Context, id int64) (bool, error)
	MarkFailed(ctx context.Context, id int64, message string) (bool, error)
	RunningCount(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*model.QueueSummary, error)
	// Clear bulk-deletes all jobs not currently running. Returns rows removed.
	Clear(ctx context.Context) (int64, error)
}

// ProjectRepository provides project config and the recompute guard flags.
type ProjectRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Project, error)
	List(ctx context.Context) ([]*model.Project, error)
	SetMetricsDirty(ctx context.Context, id int64, dirty bool) error
	// TrySetMetricsRunning flips metrics_running false->true atomically;
	// reports false when a recompute is already in flight.
	TrySetMetricsRunning(ctx context.Context, id int64) (bool, error)
	ClearMetricsRunning(ctx context.Context, id int64) error
	TrySetBackfillRunning(ctx context.Context, id int64) (bool, error)
	ClearBackfillRunning(ctx context.Context, id int64) error
	SetBackfillDone(ctx context.Context, id int64) error
}

// URLRepository resolves monitored URLs.
type URLRepository interface {
	GetByID(ctx context.Context, id int64) (*model.MonitoredURL, error)
	ListByProject(ctx context.Context, projectID int64) ([]*model.MonitoredURL, error)
}

// ViewportRepository lists the named scan configurations of a project.
type ViewportRepository interface {
	ListByProject(ctx context.Context, projectID int64) ([]*model.Viewport, error)
}

// SelectorRepository is the append-only selector dictionary.
type SelectorRepository interface {
	// GetOrCreate interns a selector text, returning the existing id on a
	// duplicate-hash race.
	GetOrCreate(ctx context.Context, text string) (int64, error)
	GetByHash(ctx context.Context, hash string) (*model.Selector, error)
	// BackfillElements assigns selector ids to up to limit legacy element
	// rows and returns the number updated; 0 means the backfill is done.
	BackfillElements(ctx context.Context, limit int) (int64, error)
}

// SnapshotParams carries one ingested test run: the coarse items and fine
// elements for the exact (url, viewport, tested_at) key.
type SnapshotParams struct {
	URLID         int64
	ViewportLabel string
	TestedAt      time.Time
	Items         []model.IssueItem
	Elements      []model.IssueElement
}

// IssueRepository stores findings and answers the suppression-aware
// aggregation queries. Every query applies identical suppression
// semantics: latest-result join, two anti-joins, distinct selectors.
type IssueRepository interface {
	// ReplaceSnapshot deletes then inserts all rows for the snapshot key; a
	// test run is atomic and supersedes nothing else.
	ReplaceSnapshot(ctx context.Context, params SnapshotParams) error
	UniqueCounts(ctx context.Context, q model.UniqueCountQuery) (*model.UniqueCounts, error)
	CategorySummary(ctx context.Context, q model.UniqueCountQuery) ([]*model.IssueSummaryRow, error)
	URLSummary(ctx context.Context, q model.UniqueCountQuery) ([]*model.URLSummaryRow, error)
	IssuePages(ctx context.Context, q model.UniqueCountQuery) ([]*model.IssuePageRow, error)
}

// ResultRepository stores append-only per-test snapshots.
type ResultRepository interface {
	Insert(ctx context.Context, r *model.Result) (*model.Result, error)
	Latest(ctx context.Context, urlID int64, viewportLabel string) (*model.Result, error)
	UpdateUniqueCounts(ctx context.Context, id int64, counts model.UniqueCounts) error
}

// DeleteSuppressionParams identifies an item-level suppression.
type DeleteSuppressionParams struct {
	ProjectID int64
	ItemID    string
	Category  model.Category
}

// SuppressionRepository manages item- and selector-level suppression rules.
type SuppressionRepository interface {
	Upsert(ctx context.Context, s *model.Suppression) (*model.Suppression, error)
	Delete(ctx context.Context, params DeleteSuppressionParams) (bool, error)
	ListByProject(ctx context.Context, projectID int64) ([]*model.Suppression, error)
	// ActiveKeys returns the item-level suppression set for ingestion-time
	// filtering.
	ActiveKeys(ctx context.Context, projectID int64) (map[model.SuppressionKey]struct{}, error)
	UpsertElement(ctx context.Context, s *model.ElementSuppression) (*model.ElementSuppression, error)
	DeleteElement(ctx context.Context, id int64) (bool, error)
	ListElementsByProject(ctx context.Context, projectID int64) ([]*model.ElementSuppression, error)
}

// MetricsRepository is the durable tier of the metrics cache.
type MetricsRepository interface {
	Get(ctx context.Context, projectID int64, cacheKey string) (*model.MetricsCacheEntry, error)
	Upsert(ctx context.Context, entry *model.MetricsCacheEntry) error
	Clear(ctx context.Context, projectID int64) (int64, error)
}
