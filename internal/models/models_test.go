package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolding_EffectivePrice(t *testing.T) {
	cur := decimal.NewFromInt(110)
	h := Holding{Quantity: decimal.NewFromInt(10), AveragePrice: decimal.NewFromInt(100)}

	assert.True(t, h.EffectivePrice().Equal(decimal.NewFromInt(100)))
	assert.True(t, h.CurrentValue().Equal(decimal.NewFromInt(1000)))

	h.CurrentPrice = &cur
	assert.True(t, h.EffectivePrice().Equal(cur))
	assert.True(t, h.Invested().Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.CurrentValue().Equal(decimal.NewFromInt(1100)))
}

func TestHolding_Clone(t *testing.T) {
	bucket := "b1"
	h := Holding{ISIN: "A", BucketID: &bucket}
	c := h.Clone()
	*c.BucketID = "b2"

	assert.Equal(t, "b1", *h.BucketID)
	assert.Equal(t, "b2", *c.BucketID)
}

func TestHolding_JSONNumbers(t *testing.T) {
	raw := `{"isin":"INE002A01018","trading_symbol":"RELIANCE","quantity":10,"average_price":2450.5,"current_price":2520,"bucket_id":null,"purchased_by":null}`

	var h Holding
	require.NoError(t, json.Unmarshal([]byte(raw), &h))
	assert.True(t, h.AveragePrice.Equal(decimal.RequireFromString("2450.5")))
	require.NotNil(t, h.CurrentPrice)
	assert.Nil(t, h.BucketID)

	out, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"average_price":2450.5`)
	assert.Contains(t, string(out), `"bucket_id":null`)
}

func TestTimestamp_ParsesLegacyFormat(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T10:15:30.123456"`), &ts))
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, time.March, ts.Month())

	require.NoError(t, json.Unmarshal([]byte(`"2024-03-01T10:15:30Z"`), &ts))
	assert.Equal(t, 10, ts.UTC().Hour())

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestBucketPatch_Apply(t *testing.T) {
	b := Bucket{ID: "b1", Name: "Growth", Philosophy: "long", GrowthTarget: decimal.NewFromInt(12)}
	name := "Compounders"
	target := decimal.NewFromInt(15)

	BucketPatch{Name: &name, GrowthTarget: &target}.Apply(&b)

	assert.Equal(t, "Compounders", b.Name)
	assert.Equal(t, "long", b.Philosophy)
	assert.True(t, b.GrowthTarget.Equal(target))
}

func TestBucketPatch_NullLeavesFieldUnchanged(t *testing.T) {
	b := Bucket{ID: "b1", Name: "Core", Philosophy: "Buy and hold", GrowthTarget: decimal.NewFromInt(8)}

	var patch BucketPatch
	require.NoError(t, json.Unmarshal([]byte(`{"philosophy":null,"growth_target":null,"name":"Core 2"}`), &patch))
	patch.Apply(&b)

	assert.Equal(t, "Core 2", b.Name)
	assert.Equal(t, "Buy and hold", b.Philosophy)
	assert.True(t, b.GrowthTarget.Equal(decimal.NewFromInt(8)))
}

func TestBrokerCredentials_Override(t *testing.T) {
	stored := BrokerCredentials{APIKey: "file-key", TOTPSecret: "file-totp"}
	got := stored.Override(BrokerCredentials{APIKey: "env-key"})

	assert.Equal(t, "env-key", got.APIKey)
	assert.Equal(t, "file-totp", got.TOTPSecret)
	assert.Equal(t, "", got.APISecret)
}

func TestBucketStatsMap_JSONKeepsOrder(t *testing.T) {
	m := BucketStatsMap{
		{ID: "zeta", Name: "Zeta", HoldingsCount: 1},
		{ID: "alpha", Name: "Alpha"},
		{ID: "unassigned", Name: "Unassigned", HoldingsCount: 2},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Regexp(t, `^\{"zeta":.*"alpha":.*"unassigned":.*\}$`, string(data))

	var back BucketStatsMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"zeta", "alpha", "unassigned"}, back.IDs())

	u, ok := back.Get("unassigned")
	require.True(t, ok)
	assert.Equal(t, 2, u.HoldingsCount)

	_, ok = back.Get("missing")
	assert.False(t, ok)
}
