package model

import (
	"sort"
	"strings"
	"time"
)

// MetricsCacheEntry is one durable row of the per-project metrics cache.
// One entry exists for the full selected viewport set and one singleton
// entry per viewport.
type MetricsCacheEntry struct {
	ProjectID int64     `json:"project_id" db:"project_id"`
	CacheKey  string    `json:"cache_key"  db:"cache_key"`
	Errors    int       `json:"errors"     db:"errors"`
	Contrast  int       `json:"contrast"   db:"contrast"`
	Alerts    int       `json:"alerts"     db:"alerts"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MetricsCacheKey builds the deterministic cache key for a viewport label
// set: labels are trimmed, deduplicated, sorted, and comma-joined, so any
// ordering of the same set yields the same key.
func MetricsCacheKey(viewportLabels []string) string {
	seen := make(map[string]struct{}, len(viewportLabels))
	labels := make([]string, 0, len(viewportLabels))
	for _, l := range viewportLabels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return strings.Join(labels, ",")
}
