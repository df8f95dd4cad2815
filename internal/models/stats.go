package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BucketStats is the rollup for one bucket
type BucketStats struct {
	ID            string          `json:"-"`
	Name          string          `json:"name"`
	Invested      decimal.Decimal `json:"invested"`
	Current       decimal.Decimal `json:"current"`
	GrowthTarget  decimal.Decimal `json:"growth_target"`
	Growth        decimal.Decimal `json:"growth"`
	HoldingsCount int             `json:"holdings_count"`
}

// BucketStatsMap is an insertion-ordered mapping from bucket id to its
// rollup. It encodes as a JSON object whose keys keep that order.
type BucketStatsMap []BucketStats

// Get returns the rollup for id
func (m BucketStatsMap) Get(id string) (BucketStats, bool) {
	for _, s := range m {
		if s.ID == id {
			return s, true
		}
	}
	return BucketStats{}, false
}

// IDs returns the bucket ids in order
func (m BucketStatsMap) IDs() []string {
	ids := make([]string, len(m))
	for i, s := range m {
		ids[i] = s.ID
	}
	return ids
}

// MarshalJSON implements json.Marshaler
func (m BucketStatsMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping document order
func (m *BucketStatsMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("bucket stats: expected object, got %v", tok)
	}

	var out BucketStatsMap
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("bucket stats: expected string key, got %v", tok)
		}
		var s BucketStats
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("bucket stats %q: %w", id, err)
		}
		s.ID = id
		out = append(out, s)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = out
	return nil
}

// PortfolioStats represents aggregate and per-bucket investment statistics
type PortfolioStats struct {
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalCurrent  decimal.Decimal `json:"total_current"`
	TotalGrowth   decimal.Decimal `json:"total_growth"`
	Buckets       BucketStatsMap  `json:"buckets"`
}
