package models

import (
	"github.com/shopspring/decimal"
)

// DefaultBucketName is used when a bucket is created without a name
const DefaultBucketName = "Unnamed Bucket"

// Bucket represents a user-defined thematic grouping of holdings
type Bucket struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Philosophy   string          `json:"philosophy"`
	Description  string          `json:"description"`
	GrowthTarget decimal.Decimal `json:"growth_target"`
	CreatedAt    *Timestamp      `json:"created_at,omitempty"`
	LastSync     *Timestamp      `json:"last_sync"`
}

// BucketPatch carries the optional fields of a bucket update. Nil fields are
// left untouched, including fields sent as an explicit JSON null.
type BucketPatch struct {
	Name         *string          `json:"name,omitempty"`
	Philosophy   *string          `json:"philosophy,omitempty"`
	Description  *string          `json:"description,omitempty"`
	GrowthTarget *decimal.Decimal `json:"growth_target,omitempty"`
}

// Apply copies every non-nil field of the patch onto b
func (p BucketPatch) Apply(b *Bucket) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Philosophy != nil {
		b.Philosophy = *p.Philosophy
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.GrowthTarget != nil {
		b.GrowthTarget = *p.GrowthTarget
	}
}
