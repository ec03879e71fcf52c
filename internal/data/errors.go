package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrURLNotFound is returned when a monitored URL is not found.
	ErrURLNotFound = errors.New("url not found")
	// ErrProjectNotFound is returned when a project is not found.
	ErrProjectNotFound = errors.New("project not found")
	// ErrResultNotFound is returned when no result snapshot exists.
	ErrResultNotFound = errors.New("result not found")
	// ErrSelectorNotFound is returned when a selector row is missing.
	ErrSelectorNotFound = errors.New("selector not found")
	// ErrMetricsEntryNotFound is returned when a metrics cache row is missing.
	ErrMetricsEntryNotFound = errors.New("metrics cache entry not found")
)
