package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/accesswatch/accesswatch/internal/core"
	"github.com/accesswatch/accesswatch/internal/data"
	"github.com/accesswatch/accesswatch/internal/domain/model"
	"github.com/accesswatch/accesswatch/internal/wave"
)

// In-memory test doubles for the core ports, shared across the service
// package's tests.

type fakeJobRepo struct {
	mu      sync.Mutex
	nextID  int64
	jobs    map[int64]*model.Job
	running int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[int64]*model.Job)}
}

func (f *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	payload, _ := json.Marshal(req.Payload)
	job := &model.Job{
		ID:        f.nextID,
		Type:      req.Type,
		URLID:     req.URLID,
		ProjectID: req.ProjectID,
		Status:    model.JobStatusPending,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id int64) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobRepo) FetchPending(_ context.Context, limit int) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Job
	for id := int64(1); id <= f.nextID && len(out) < limit; id++ {
		if job, ok := f.jobs[id]; ok && job.Status == model.JobStatusPending {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) ClaimBatch(_ context.Context, params core.ClaimBatchParams) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Job
	for id := int64(1); id <= f.nextID && len(out) < params.Limit; id++ {
		job, ok := f.jobs[id]
		if !ok || job.Status != model.JobStatusPending {
			continue
		}
		if params.ProjectID != 0 && job.ProjectID != params.ProjectID {
			continue
		}
		job.Status = model.JobStatusRunning
		f.running++
		out = append(out, job)
	}
	return out, nil
}

func (f *fakeJobRepo) MarkRunning(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	job.Status = model.JobStatusRunning
	f.running++
	return true, nil
}

func (f *fakeJobRepo) MarkComplete(_ context.Context, id int64) (bool, error) {
	return f.finish(id, model.JobStatusCompleted, nil)
}

func (f *fakeJobRepo) MarkFailed(_ context.Context, id int64, message string) (bool, error) {
	return f.finish(id, model.JobStatusFailed, &message)
}

func (f *fakeJobRepo) finish(id int64, status model.JobStatus, message *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	job.Status = status
	job.ErrorMessage = message
	f.running--
	return true, nil
}

func (f *fakeJobRepo) RunningCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeJobRepo) Stats(context.Context) (*model.QueueSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := &model.QueueSummary{}
	for _, job := range f.jobs {
		summary.Total++
		switch job.Status {
		case model.JobStatusPending:
			summary.Pending++
		case model.JobStatusRunning:
			summary.Running++
		case model.JobStatusFailed:
			summary.Failed++
		case model.JobStatusCompleted:
		}
	}
	return summary, nil
}

func (f *fakeJobRepo) Clear(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, job := range f.jobs {
		if job.Status != model.JobStatusRunning {
			delete(f.jobs, id)
			removed++
		}
	}
	return removed, nil
}

type fakeURLRepo struct {
	urls map[int64]*model.MonitoredURL
}

func newFakeURLRepo(urls ...*model.MonitoredURL) *fakeURLRepo {
	f := &fakeURLRepo{urls: make(map[int64]*model.MonitoredURL)}
	for _, u := range urls {
		f.urls[u.ID] = u
	}
	return f
}

func (f *fakeURLRepo) GetByID(_ context.Context, id int64) (*model.MonitoredURL, error) {
	u, ok := f.urls[id]
	if !ok {
		return nil, data.ErrURLNotFound
	}
	return u, nil
}

func (f *fakeURLRepo) ListByProject(_ context.Context, projectID int64) ([]*model.MonitoredURL, error) {
	var out []*model.MonitoredURL
	for _, u := range f.urls {
		if u.ProjectID == projectID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[int64]*model.Project
}

func newFakeProjectRepo(projects ...*model.Project) *fakeProjectRepo {
	f := &fakeProjectRepo{projects: make(map[int64]*model.Project)}
	for _, p := range projects {
		f.projects[p.ID] = p
	}
	return f
}

func (f *fakeProjectRepo) GetByID(_ context.Context, id int64) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, data.ErrProjectNotFound
	}
	return p, nil
}

func (f *fakeProjectRepo) List(context.Context) ([]*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjectRepo) SetMetricsDirty(_ context.Context, id int64, dirty bool) error {
	return f.update(id, func(p *model.Project) { p.MetricsDirty = dirty })
}

func (f *fakeProjectRepo) TrySetMetricsRunning(_ context.Context, id int64) (bool, error) {
	return f.tryFlag(id, func(p *model.Project) *bool { return &p.MetricsRunning })
}

func (f *fakeProjectRepo) ClearMetricsRunning(_ context.Context, id int64) error {
	return f.update(id, func(p *model.Project) { p.MetricsRunning = false })
}

func (f *fakeProjectRepo) TrySetBackfillRunning(_ context.Context, id int64) (bool, error) {
	return f.tryFlag(id, func(p *model.Project) *bool { return &p.BackfillRunning })
}

func (f *fakeProjectRepo) ClearBackfillRunning(_ context.Context, id int64) error {
	return f.update(id, func(p *model.Project) { p.BackfillRunning = false })
}

func (f *fakeProjectRepo) SetBackfillDone(_ context.Context, id int64) error {
	return f.update(id, func(p *model.Project) { p.BackfillDone = true })
}

func (f *fakeProjectRepo) update(id int64, fn func(*model.Project)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return data.ErrProjectNotFound
	}
	fn(p)
	return nil
}

func (f *fakeProjectRepo) tryFlag(id int64, flag func(*model.Project) *bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return false, data.ErrProjectNotFound
	}
	target := flag(p)
	if *target {
		return false, nil
	}
	*target = true
	return true, nil
}

type fakeViewportRepo struct {
	viewports []*model.Viewport
}

func (f *fakeViewportRepo) ListByProject(_ context.Context, projectID int64) ([]*model.Viewport, error) {
	var out []*model.Viewport
	for _, v := range f.viewports {
		if v.ProjectID == projectID {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeSelectorRepo struct {
	mu       sync.Mutex
	nextID   int64
	byText   map[string]int64
	backfill []int64 // scripted per-call results for BackfillElements
}

func newFakeSelectorRepo() *fakeSelectorRepo {
	return &fakeSelectorRepo{byText: make(map[string]int64)}
}

func (f *fakeSelectorRepo) GetOrCreate(_ context.Context, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byText[text]; ok {
		return id, nil
	}
	f.nextID++
	f.byText[text] = f.nextID
	return f.nextID, nil
}

func (f *fakeSelectorRepo) GetByHash(_ context.Context, hash string) (*model.Selector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for text, id := range f.byText {
		if model.SelectorHash(text) == hash {
			return &model.Selector{ID: id, Text: text, Hash: hash}, nil
		}
	}
	return nil, data.ErrSelectorNotFound
}

func (f *fakeSelectorRepo) BackfillElements(_ context.Context, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backfill) == 0 {
		return 0, nil
	}
	n := f.backfill[0]
	f.backfill = f.backfill[1:]
	return n, nil
}

type fakeIssueRepo struct {
	mu        sync.Mutex
	snapshots []core.SnapshotParams
	counts    map[string]model.UniqueCounts // keyed by MetricsCacheKey(q.ViewportLabels)
	queries   []model.UniqueCountQuery
}

func newFakeIssueRepo() *fakeIssueRepo {
	return &fakeIssueRepo{counts: make(map[string]model.UniqueCounts)}
}

func (f *fakeIssueRepo) ReplaceSnapshot(_ context.Context, params core.SnapshotParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, params)
	return nil
}

func (f *fakeIssueRepo) UniqueCounts(_ context.Context, q model.UniqueCountQuery) (*model.UniqueCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	counts := f.counts[model.MetricsCacheKey(q.ViewportLabels)]
	return &counts, nil
}

func (f *fakeIssueRepo) CategorySummary(context.Context, model.UniqueCountQuery) ([]*model.IssueSummaryRow, error) {
	return nil, nil
}

func (f *fakeIssueRepo) URLSummary(context.Context, model.UniqueCountQuery) ([]*model.URLSummaryRow, error) {
	return nil, nil
}

func (f *fakeIssueRepo) IssuePages(context.Context, model.UniqueCountQuery) ([]*model.IssuePageRow, error) {
	return nil, nil
}

func (f *fakeIssueRepo) lastSnapshot() *core.SnapshotParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return nil
	}
	s := f.snapshots[len(f.snapshots)-1]
	return &s
}

type fakeResultRepo struct {
	mu      sync.Mutex
	nextID  int64
	results map[int64]*model.Result
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: make(map[int64]*model.Result)}
}

func (f *fakeResultRepo) Insert(_ context.Context, r *model.Result) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := *r
	stored.ID = f.nextID
	f.results[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeResultRepo) Latest(_ context.Context, urlID int64, viewportLabel string) (*model.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.Result
	for _, r := range f.results {
		if r.URLID != urlID || r.ViewportLabel != viewportLabel {
			continue
		}
		if latest == nil || r.TestedAt.After(latest.TestedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, data.ErrResultNotFound
	}
	return latest, nil
}

func (f *fakeResultRepo) UpdateUniqueCounts(_ context.Context, id int64, counts model.UniqueCounts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[id]
	if !ok {
		return data.ErrResultNotFound
	}
	r.UniqueErrors = &counts.Errors
	r.UniqueContrastErrors = &counts.ContrastErrors
	r.UniqueAlerts = &counts.Alerts
	return nil
}

type fakeSuppressionRepo struct {
	mu     sync.Mutex
	nextID int64
	rules  map[int64][]*model.Suppression
	els    map[int64][]*model.ElementSuppression
}

func newFakeSuppressionRepo() *fakeSuppressionRepo {
	return &fakeSuppressionRepo{
		rules: make(map[int64][]*model.Suppression),
		els:   make(map[int64][]*model.ElementSuppression),
	}
}

func (f *fakeSuppressionRepo) Upsert(_ context.Context, s *model.Suppression) (*model.Suppression, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rules[s.ProjectID] {
		if existing.ItemID == s.ItemID && existing.Category == s.Category {
			existing.Reason = s.Reason
			return existing, nil
		}
	}
	f.nextID++
	stored := *s
	stored.ID = f.nextID
	f.rules[s.ProjectID] = append(f.rules[s.ProjectID], &stored)
	return &stored, nil
}

func (f *fakeSuppressionRepo) Delete(_ context.Context, params core.DeleteSuppressionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rules := f.rules[params.ProjectID]
	for i, r := range rules {
		if r.ItemID == params.ItemID && r.Category == params.Category {
			f.rules[params.ProjectID] = append(rules[:i], rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSuppressionRepo) ListByProject(_ context.Context, projectID int64) ([]*model.Suppression, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules[projectID], nil
}

func (f *fakeSuppressionRepo) ActiveKeys(_ context.Context, projectID int64) (map[model.SuppressionKey]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(map[model.SuppressionKey]struct{})
	for _, r := range f.rules[projectID] {
		keys[r.Key()] = struct{}{}
	}
	return keys, nil
}

func (f *fakeSuppressionRepo) UpsertElement(_ context.Context, s *model.ElementSuppression) (*model.ElementSuppression, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := *s
	stored.ID = f.nextID
	f.els[s.ProjectID] = append(f.els[s.ProjectID], &stored)
	return &stored, nil
}

func (f *fakeSuppressionRepo) DeleteElement(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for projectID, rules := range f.els {
		for i, r := range rules {
			if r.ID == id {
				f.els[projectID] = append(rules[:i], rules[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeSuppressionRepo) ListElementsByProject(_ context.Context, projectID int64) ([]*model.ElementSuppression, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.els[projectID], nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
	gets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.entries[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (f *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}

func (f *fakeCache) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeCache) Health(context.Context) error { return nil }

func (f *fakeCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

type fakeMetricsRepo struct {
	mu      sync.Mutex
	entries map[string]*model.MetricsCacheEntry
	gets    int
}

func newFakeMetricsRepo() *fakeMetricsRepo {
	return &fakeMetricsRepo{entries: make(map[string]*model.MetricsCacheEntry)}
}

func metricsRepoKey(projectID int64, cacheKey string) string {
	return fmt.Sprintf("%d/%s", projectID, cacheKey)
}

func (f *fakeMetricsRepo) Get(_ context.Context, projectID int64, cacheKey string) (*model.MetricsCacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	e, ok := f.entries[metricsRepoKey(projectID, cacheKey)]
	if !ok {
		return nil, data.ErrMetricsEntryNotFound
	}
	return e, nil
}

func (f *fakeMetricsRepo) Upsert(_ context.Context, entry *model.MetricsCacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *entry
	f.entries[metricsRepoKey(entry.ProjectID, entry.CacheKey)] = &stored
	return nil
}

func (f *fakeMetricsRepo) Clear(_ context.Context, projectID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	prefix := fmt.Sprintf("%d/", projectID)
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
			removed++
		}
	}
	return removed, nil
}

// fakeScorer scripts Analyze outcomes: errs are consumed first, then the
// report is returned for every remaining call.
type fakeScorer struct {
	mu     sync.Mutex
	report *wave.Report
	errs   []error
	calls  int
	docs   map[string]*wave.ItemDoc
	last   wave.RequestRecord
}

func (f *fakeScorer) Analyze(_ context.Context, _, _ string, _ model.ScanParams) (*wave.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.report, nil
}

func (f *fakeScorer) FetchDoc(_ context.Context, itemID string) (*wave.ItemDoc, error) {
	doc, ok := f.docs[itemID]
	if !ok {
		return nil, data.ErrSelectorNotFound
	}
	return doc, nil
}

func (f *fakeScorer) LastRequest() wave.RequestRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
