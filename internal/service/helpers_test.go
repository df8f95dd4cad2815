package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/types"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strPtr(s string) *string {
	return &s
}

func provPtr(p types.Provenance) *types.Provenance {
	return &p
}

// holdingsFromSeeds builds distinct-ISIN holdings from generator output.
// seed%4 picks the bucket: 0 unassigned, else b1..b3.
func holdingsFromSeeds(seeds []int) []models.Holding {
	seen := make(map[string]bool)
	out := make([]models.Holding, 0, len(seeds))
	for _, seed := range seeds {
		if seed < 0 {
			seed = -seed
		}
		isin := fmt.Sprintf("INE%06d", seed%40)
		if seen[isin] {
			continue
		}
		seen[isin] = true

		h := models.Holding{
			ISIN:          isin,
			TradingSymbol: fmt.Sprintf("SYM%d", seed%40),
			Quantity:      decimal.NewFromInt(int64(seed%50 + 1)),
			AveragePrice:  decimal.NewFromInt(int64(seed%997 + 1)),
		}
		if seed%3 != 0 {
			p := decimal.NewFromInt(int64(seed%1013 + 1))
			h.CurrentPrice = &p
		}
		if b := seed % 4; b != 0 {
			id := fmt.Sprintf("b%d", b)
			h.BucketID = &id
			h.PurchasedBy = provPtr(types.ProvenanceHuman)
		}
		out = append(out, h)
	}
	return out
}

func sumInvested(holdings []models.Holding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.Invested())
	}
	return total
}

func sumCurrent(holdings []models.Holding) decimal.Decimal {
	total := decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.CurrentValue())
	}
	return total
}
