// Package wave implements the client for the external accessibility
// scoring API: page analysis at configurable report depth plus the item
// documentation lookups.
package wave

import (
	"context"
	"encoding/json"

	"github.com/accesswatch/accesswatch/internal/domain/model"
)

// Scorer is the narrow client surface the job processor consumes.
type Scorer interface {
	Analyze(ctx context.Context, apiKey, pageURL string, params model.ScanParams) (*Report, error)
	FetchDoc(ctx context.Context, itemID string) (*ItemDoc, error)
}

// Report is the typed analysis result. The granularity of Items depends on
// the requested detail tier: tier 1 carries aggregate counts only, tier 2
// adds per-item counts, tiers 3 and 4 add element locations.
type Report struct {
	RawCategories json.RawMessage

	AIMScore       float64
	Errors         int
	ContrastErrors int
	Alerts         int
	Features       int
	Structure      int
	ARIA           int
	TotalElements  int

	HTTPStatus int
	PageTitle  string
	FinalURL   string
	ReportURL  string

	CreditsRemaining float64
	AnalysisDuration float64

	Items []ReportItem
}

// ReportItem is one issue item with its occurrence details.
type ReportItem struct {
	ItemID      string
	Category    model.Category
	Description string
	Count       int
	Elements    []ReportElement
}

// ReportElement is one occurrence location. At tier 3 Selector holds a
// coarse location string; at tier 4 it is a CSS selector, with contrast
// data where the vendor provides it.
type ReportElement struct {
	Selector        string
	ContrastRatio   *float64
	ForegroundColor *string
	BackgroundColor *string
	LargeText       *bool
}

// CountFor returns the aggregate count for one category.
func (r *Report) CountFor(c model.Category) int {
	switch c {
	case model.CategoryError:
		return r.Errors
	case model.CategoryContrast:
		return r.ContrastErrors
	case model.CategoryAlert:
		return r.Alerts
	case model.CategoryFeature:
		return r.Features
	case model.CategoryStructure:
		return r.Structure
	case model.CategoryARIA:
		return r.ARIA
	default:
		return 0
	}
}

// ItemDoc is the vendor documentation for one issue item.
type ItemDoc struct {
	ItemID     string   `json:"item_id"`
	Purpose    string   `json:"purpose"`
	Details    string   `json:"details"`
	Actions    string   `json:"actions"`
	Guidelines []string `json:"guidelines"`
}
