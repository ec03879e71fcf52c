// Package metrics provides standardized emission helpers for the scan job
// lifecycle.
package metrics

import (
	"time"

	obserrors "github.com/accesswatch/accesswatch/internal/observability/errors"
	"github.com/accesswatch/accesswatch/internal/observability/statsd"
)

// Scan lifecycle transitions.
const (
	TransitionClaim    = "claim"
	TransitionComplete = "complete"
	TransitionFail     = "fail"
)

// ScanMetric captures one scan job lifecycle event for metric emission.
type ScanMetric struct {
	Transition string
	Duration   time.Duration
	Err        error
}

// EmitScanLifecycle emits a scan.transition counter plus a scan.duration
// timing when a duration is known.
func EmitScanLifecycle(sink statsd.Sink, in ScanMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"transition": in.Transition}
	if in.Err != nil {
		tags["error_class"] = obserrors.Classify(in.Err)
	}

	sink.Count("scan.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("scan.duration", in.Duration, tags)
	}
}
