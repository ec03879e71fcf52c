package worker

import "github.com/accesswatch/accesswatch/internal/domain/model"

// Inbound is a control message consumed by the worker loop. The closed set
// of implementations replaces the loose key-value blobs the wire protocol
// carries; decoding happens once at the process edge.
type Inbound interface {
	inbound()
}

// QueueTick asks the worker to sweep every project's pending jobs once.
type QueueTick struct{}

// MetricsRefresh asks for an out-of-band metrics recompute for one project.
type MetricsRefresh struct {
	ProjectID int64
}

// SelectorsBackfill asks for one selector-id backfill pass for one project.
type SelectorsBackfill struct {
	ProjectID int64
}

func (QueueTick) inbound()         {}
func (MetricsRefresh) inbound()    {}
func (SelectorsBackfill) inbound() {}

// Outbound is a progress event emitted by the worker loop.
type Outbound interface {
	outbound()
}

// QueueJob reports one processed job's terminal state.
type QueueJob struct {
	JobID         int64
	URLID         int64
	ViewportLabel string
	Status        model.JobStatus
	Error         string
}

// MetricsUpdated reports a completed metrics recompute.
type MetricsUpdated struct {
	ProjectID int64
}

// MetricsError reports a failed metrics recompute.
type MetricsError struct {
	ProjectID int64
	Error     string
}

// SelectorsBackfilled reports a completed backfill pass and how many
// element rows it updated.
type SelectorsBackfilled struct {
	ProjectID int64
	Updated   int64
}

// SelectorsError reports a failed backfill pass.
type SelectorsError struct {
	ProjectID int64
	Error     string
}

func (QueueJob) outbound()            {}
func (MetricsUpdated) outbound()      {}
func (MetricsError) outbound()        {}
func (SelectorsBackfilled) outbound() {}
func (SelectorsError) outbound()      {}
