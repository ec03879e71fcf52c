// Package errors maps application errors to normalized class names for
// metric tagging.
package errors

import (
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// Classify returns a normalized error class suitable for tagging metrics
// and logs, derived from the AppError taxonomy.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	return string(apperrors.CodeOf(err))
}
