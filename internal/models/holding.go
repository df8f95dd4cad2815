// Package models provides data models for the bucket tracker.
package models

import (
	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/types"
)

func init() {
	// Persisted documents carry prices and quantities as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Holding represents a single security position, keyed by ISIN
type Holding struct {
	ISIN           string            `json:"isin"`
	TradingSymbol  string            `json:"trading_symbol"`
	Quantity       decimal.Decimal   `json:"quantity"`
	AveragePrice   decimal.Decimal   `json:"average_price"`
	CurrentPrice   *decimal.Decimal  `json:"current_price"`
	T1Quantity     decimal.Decimal   `json:"t1_quantity"`
	PledgeQuantity decimal.Decimal   `json:"pledge_quantity"`
	BucketID       *string           `json:"bucket_id"`
	PurchasedBy    *types.Provenance `json:"purchased_by"`
}

// EffectivePrice returns the current price, or the average price when no
// market price is known.
func (h Holding) EffectivePrice() decimal.Decimal {
	if h.CurrentPrice != nil {
		return *h.CurrentPrice
	}
	return h.AveragePrice
}

// Invested returns quantity × average price
func (h Holding) Invested() decimal.Decimal {
	return h.Quantity.Mul(h.AveragePrice)
}

// CurrentValue returns quantity × effective price
func (h Holding) CurrentValue() decimal.Decimal {
	return h.Quantity.Mul(h.EffectivePrice())
}

// InBucket reports whether the holding is assigned to bucketID
func (h Holding) InBucket(bucketID string) bool {
	return h.BucketID != nil && *h.BucketID == bucketID
}

// Clone returns a deep copy so that callers can mutate pointer fields freely
func (h Holding) Clone() Holding {
	c := h
	if h.CurrentPrice != nil {
		p := *h.CurrentPrice
		c.CurrentPrice = &p
	}
	if h.BucketID != nil {
		b := *h.BucketID
		c.BucketID = &b
	}
	if h.PurchasedBy != nil {
		p := *h.PurchasedBy
		c.PurchasedBy = &p
	}
	return c
}
