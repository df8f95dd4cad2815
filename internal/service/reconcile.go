package service

import (
	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/models"
)

// MergeHoldings reconciles a fresh broker fetch with the stored holdings.
//
// The result has one entry per fetched ISIN, in fetched order. Holdings that
// exist locally keep their bucket assignment and provenance while quantity,
// prices and symbol are refreshed. New ISINs start unassigned. Locally stored
// holdings missing from the fetch are dropped. Neither input is modified.
func MergeHoldings(current, fetched []models.Holding) []models.Holding {
	existing := make(map[string]models.Holding, len(current))
	for _, h := range current {
		existing[h.ISIN] = h
	}

	merged := make([]models.Holding, 0, len(fetched))
	for _, f := range fetched {
		prev, ok := existing[f.ISIN]
		if !ok {
			h := f.Clone()
			h.BucketID = nil
			h.PurchasedBy = nil
			merged = append(merged, h)
			continue
		}

		h := prev.Clone()
		h.Quantity = f.Quantity
		h.AveragePrice = f.AveragePrice
		h.TradingSymbol = f.TradingSymbol
		h.T1Quantity = f.T1Quantity
		h.PledgeQuantity = f.PledgeQuantity
		h.CurrentPrice = resolveCurrentPrice(f, prev)
		merged = append(merged, h)
	}

	return merged
}

// resolveCurrentPrice prefers the fetched price, then the stored price, then
// the fetched average price.
func resolveCurrentPrice(fetched, stored models.Holding) *decimal.Decimal {
	switch {
	case fetched.CurrentPrice != nil:
		p := *fetched.CurrentPrice
		return &p
	case stored.CurrentPrice != nil:
		p := *stored.CurrentPrice
		return &p
	default:
		p := fetched.AveragePrice
		return &p
	}
}
