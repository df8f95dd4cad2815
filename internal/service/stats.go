package service

import (
	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/types"
)

const unassignedBucketName = "Unassigned"

var hundred = decimal.NewFromInt(100)

// ComputeStats aggregates invested and current value across all holdings and
// per bucket.
//
// Buckets appear in stored order followed by the synthetic "unassigned"
// bucket. A holding whose bucket id is nil, or names a bucket that no longer
// exists, is counted as unassigned. A stored bucket whose id is
// "unassigned" is ignored, so its holdings count as unassigned too.
func ComputeStats(holdings []models.Holding, buckets []models.Bucket) models.PortfolioStats {
	acc := make(models.BucketStatsMap, 0, len(buckets)+1)
	index := make(map[string]int, len(buckets)+1)

	for _, b := range buckets {
		// "unassigned" is reserved for the synthetic bucket.
		if _, dup := index[b.ID]; dup || b.ID == types.UnassignedBucketID {
			continue
		}
		index[b.ID] = len(acc)
		acc = append(acc, models.BucketStats{
			ID:           b.ID,
			Name:         b.Name,
			GrowthTarget: b.GrowthTarget,
		})
	}
	unassigned := len(acc)
	index[types.UnassignedBucketID] = unassigned
	acc = append(acc, models.BucketStats{
		ID:   types.UnassignedBucketID,
		Name: unassignedBucketName,
	})

	stats := models.PortfolioStats{}
	for _, h := range holdings {
		invested := h.Invested()
		current := h.CurrentValue()

		stats.TotalInvested = stats.TotalInvested.Add(invested)
		stats.TotalCurrent = stats.TotalCurrent.Add(current)

		slot := unassigned
		if h.BucketID != nil {
			if i, found := index[*h.BucketID]; found {
				slot = i
			}
		}
		acc[slot].Invested = acc[slot].Invested.Add(invested)
		acc[slot].Current = acc[slot].Current.Add(current)
		acc[slot].HoldingsCount++
	}

	for i := range acc {
		acc[i].Growth = growthPercent(acc[i].Invested, acc[i].Current)
	}
	stats.TotalGrowth = growthPercent(stats.TotalInvested, stats.TotalCurrent)
	stats.Buckets = acc

	return stats
}

// growthPercent returns (current - invested) / invested * 100, or zero when
// nothing was invested.
func growthPercent(invested, current decimal.Decimal) decimal.Decimal {
	if !invested.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(invested).Div(invested).Mul(hundred)
}
