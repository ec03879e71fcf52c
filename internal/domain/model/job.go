// Package model defines the core data types and structures used throughout the accesswatch scan system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the kind of work a queued job carries.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeScan represents a per-URL accessibility scan job.
	JobTypeScan JobType = "scan"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// ErrNoJobsAvailable is returned when no pending jobs can be claimed.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeScan
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal returns true when the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents a queued per-URL audit with its lifecycle timestamps.
// Status transitions are monotonic: pending -> running -> completed|failed.
type Job struct {
	ID           int64           `json:"id"                      db:"id"`
	Type         JobType         `json:"type"                    db:"type"`
	URLID        int64           `json:"url_id"                  db:"url_id"`
	ProjectID    int64           `json:"project_id"              db:"project_id"`
	Status       JobStatus       `json:"status"                  db:"status"`
	Payload      json.RawMessage `json:"payload"                 db:"payload"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"    db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"   db:"finished_at"`
}

// ScanPayload decodes the job payload as a ScanJobPayload.
func (j *Job) ScanPayload() (ScanJobPayload, error) {
	var p ScanJobPayload
	if len(j.Payload) == 0 {
		return p, errors.New("job payload is empty")
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode scan payload: %w", err)
	}
	return p, nil
}

// ScanJobPayload is the typed payload for scan jobs. It replaces the loose
// key-value params blob with a validated variant per job kind.
type ScanJobPayload struct {
	// ViewportLabel names the viewport configuration this scan targets.
	ViewportLabel string `json:"viewport_label"`
	// RunID groups results from one scheduled sweep; generated when absent.
	RunID string `json:"run_id,omitempty"`
	// DetailTier overrides the project's configured report depth when > 0.
	DetailTier int `json:"detail_tier,omitempty"`
}

// Validate checks the payload fields at enqueue time.
func (p *ScanJobPayload) Validate() error {
	if strings.TrimSpace(p.ViewportLabel) == "" {
		return errors.New("viewport label is required")
	}
	if p.DetailTier != 0 && (p.DetailTier < MinDetailTier || p.DetailTier > MaxDetailTier) {
		return fmt.Errorf("detail tier must be between %d and %d", MinDetailTier, MaxDetailTier)
	}
	return nil
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Type      JobType        `json:"type"`
	URLID     int64          `json:"url_id"`
	ProjectID int64          `json:"project_id"`
	Payload   ScanJobPayload `json:"payload"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if r.URLID <= 0 {
		return errors.New("url id is required")
	}
	if r.ProjectID <= 0 {
		return errors.New("project id is required")
	}
	return r.Payload.Validate()
}

// QueueSummary reports job counts per status for the polling dashboard.
type QueueSummary struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
}
