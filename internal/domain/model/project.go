package model

import (
	"strings"
	"time"
)

// Detail tier bounds for the external scan report depth.
// Tier 1 yields aggregate counts only; tier 4 yields CSS-selector and
// contrast-level detail.
const (
	MinDetailTier = 1
	MaxDetailTier = 4
)

// Defaults applied when a project has no persisted scan configuration.
const (
	DefaultDetailTier    = MaxDetailTier
	DefaultViewportWidth = 1200
	DefaultEvalDelay     = 250 * time.Millisecond
	DefaultRetryAttempts = 2
	DefaultRetryDelay    = 2 * time.Second
)

// Project holds per-project scan configuration plus the guard flags that
// drive asynchronous metrics recompute and selector backfill.
type Project struct {
	ID            int64         `json:"id"             db:"id"`
	Name          string        `json:"name"           db:"name"`
	APIKey        string        `json:"-"              db:"api_key"`
	DetailTier    int           `json:"detail_tier"    db:"detail_tier"`
	ViewportWidth int           `json:"viewport_width" db:"viewport_width"`
	EvalDelay     time.Duration `json:"eval_delay"     db:"eval_delay_ms"`
	UserAgent     string        `json:"user_agent"     db:"user_agent"`
	RetryAttempts int           `json:"retry_attempts" db:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"    db:"retry_delay_ms"`

	MetricsDirty    bool `json:"metrics_dirty"    db:"metrics_dirty"`
	MetricsRunning  bool `json:"metrics_running"  db:"metrics_running"`
	BackfillDone    bool `json:"backfill_done"    db:"backfill_done"`
	BackfillRunning bool `json:"backfill_running" db:"backfill_running"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MonitoredURL is a page registered for periodic audits.
type MonitoredURL struct {
	ID        int64     `json:"id"         db:"id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	Address   string    `json:"address"    db:"address"`
	Label     string    `json:"label"      db:"label"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Viewport is a named scan configuration audits are run against.
type Viewport struct {
	ID        int64     `json:"id"         db:"id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	Label     string    `json:"label"      db:"label"`
	Width     int       `json:"width"      db:"width"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RetryPolicy controls external-call retries: Attempts additional tries
// after the first, with a fixed delay between attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Sanitize clamps both knobs to >= 0.
func (p *RetryPolicy) Sanitize() {
	if p.Attempts < 0 {
		p.Attempts = 0
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
}

// ScanParams is the fully resolved parameter set handed to the scoring client.
type ScanParams struct {
	DetailTier    int
	ViewportWidth int
	EvalDelay     time.Duration
	UserAgent     string
	ViewportLabel string
	RunID         string
}

// ClampDetailTier forces a tier into the valid range.
func ClampDetailTier(tier int) int {
	if tier < MinDetailTier {
		return MinDetailTier
	}
	if tier > MaxDetailTier {
		return MaxDetailTier
	}
	return tier
}

// ResolveScanParams merges parameters in priority order: built-in defaults,
// then the project's persisted configuration, then job-specific overrides
// from the payload. The detail tier is clamped to the valid range.
func ResolveScanParams(project *Project, payload ScanJobPayload) ScanParams {
	params := ScanParams{
		DetailTier:    DefaultDetailTier,
		ViewportWidth: DefaultViewportWidth,
		EvalDelay:     DefaultEvalDelay,
		ViewportLabel: payload.ViewportLabel,
		RunID:         payload.RunID,
	}

	if project != nil {
		if project.DetailTier > 0 {
			params.DetailTier = project.DetailTier
		}
		if project.ViewportWidth > 0 {
			params.ViewportWidth = project.ViewportWidth
		}
		if project.EvalDelay > 0 {
			params.EvalDelay = project.EvalDelay
		}
		if ua := strings.TrimSpace(project.UserAgent); ua != "" {
			params.UserAgent = ua
		}
	}

	if payload.DetailTier > 0 {
		params.DetailTier = payload.DetailTier
	}
	params.DetailTier = ClampDetailTier(params.DetailTier)

	return params
}

// RetryPolicyFor resolves the project's retry policy, falling back to
// defaults and clamping negatives.
func RetryPolicyFor(project *Project) RetryPolicy {
	policy := RetryPolicy{
		Attempts: DefaultRetryAttempts,
		Delay:    DefaultRetryDelay,
	}
	if project != nil {
		policy.Attempts = project.RetryAttempts
		policy.Delay = project.RetryDelay
	}
	policy.Sanitize()
	return policy
}
