package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Category identifies a WAVE result category.
type Category string

const (
	// CategoryError counts accessibility errors.
	CategoryError Category = "error"
	// CategoryContrast counts contrast errors.
	CategoryContrast Category = "contrast"
	// CategoryAlert counts alerts.
	CategoryAlert Category = "alert"
	// CategoryFeature counts accessibility features.
	CategoryFeature Category = "feature"
	// CategoryStructure counts structural elements.
	CategoryStructure Category = "structure"
	// CategoryARIA counts ARIA usages.
	CategoryARIA Category = "aria"
)

// CountedCategories are the categories that participate in unique-count
// aggregation and metrics caching.
func CountedCategories() []Category {
	return []Category{CategoryError, CategoryContrast, CategoryAlert}
}

// IssueItem is the coarse per-item record available from the item-count
// report tier: one row per (url, viewport, item, category, tested_at).
type IssueItem struct {
	ID            int64     `json:"id"             db:"id"`
	URLID         int64     `json:"url_id"         db:"url_id"`
	ViewportLabel string    `json:"viewport_label" db:"viewport_label"`
	ItemID        string    `json:"item_id"        db:"item_id"`
	Category      Category  `json:"category"       db:"category"`
	Description   string    `json:"description"    db:"description"`
	Count         int       `json:"count"          db:"count"`
	TestedAt      time.Time `json:"tested_at"      db:"tested_at"`
}

// IssueElement is the fine-grained per-occurrence record from the higher
// report tiers. SelectorID references the interned selector dictionary;
// legacy rows that predate interning carry only the raw selector text.
type IssueElement struct {
	ID              int64     `json:"id"                         db:"id"`
	URLID           int64     `json:"url_id"                     db:"url_id"`
	ViewportLabel   string    `json:"viewport_label"             db:"viewport_label"`
	ItemID          string    `json:"item_id"                    db:"item_id"`
	Category        Category  `json:"category"                   db:"category"`
	SelectorID      *int64    `json:"selector_id,omitempty"      db:"selector_id"`
	Selector        string    `json:"selector"                   db:"selector"`
	ContrastRatio   *float64  `json:"contrast_ratio,omitempty"   db:"contrast_ratio"`
	ForegroundColor *string   `json:"foreground_color,omitempty" db:"foreground_color"`
	BackgroundColor *string   `json:"background_color,omitempty" db:"background_color"`
	LargeText       *bool     `json:"large_text,omitempty"       db:"large_text"`
	TestedAt        time.Time `json:"tested_at"                  db:"tested_at"`
}

// Selector is one row of the append-only, project-wide selector dictionary.
// Hash is the dedup key: at most one row exists per selector text.
type Selector struct {
	ID   int64  `json:"id"   db:"id"`
	Text string `json:"text" db:"selector_text"`
	Hash string `json:"hash" db:"hash"`
}

// SelectorHash computes the content hash used as the interning dedup key.
func SelectorHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SuppressionKey identifies an item-level suppression target.
type SuppressionKey struct {
	ItemID   string
	Category Category
}

// Suppression excludes an (itemID, category) pair from active counts.
// Unique per (project, item, category).
type Suppression struct {
	ID        int64     `json:"id"         db:"id"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	ItemID    string    `json:"item_id"    db:"item_id"`
	Category  Category  `json:"category"   db:"category"`
	Reason    string    `json:"reason"     db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Key returns the item-level suppression key.
func (s *Suppression) Key() SuppressionKey {
	return SuppressionKey{ItemID: s.ItemID, Category: s.Category}
}

// ElementSuppression excludes a specific selector occurrence from active
// counts. A nil ViewportLabel applies to all viewports.
type ElementSuppression struct {
	ID            int64     `json:"id"                       db:"id"`
	ProjectID     int64     `json:"project_id"               db:"project_id"`
	URLID         int64     `json:"url_id"                   db:"url_id"`
	ViewportLabel *string   `json:"viewport_label,omitempty" db:"viewport_label"`
	ItemID        string    `json:"item_id"                  db:"item_id"`
	Category      Category  `json:"category"                 db:"category"`
	Selector      string    `json:"selector"                 db:"selector"`
	Reason        string    `json:"reason"                   db:"reason"`
	CreatedAt     time.Time `json:"created_at"               db:"created_at"`
}
