package adapter

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/models"
)

// FixtureBroker serves a fixed set of holdings. It is selected explicitly
// with BROKER_MODE=fixture for demos and local development.
type FixtureBroker struct {
	holdings []models.Holding
}

// NewFixtureBroker returns a broker serving the given holdings, or the
// default sample portfolio when none are given
func NewFixtureBroker(holdings ...models.Holding) *FixtureBroker {
	if len(holdings) == 0 {
		holdings = SampleHoldings()
	}
	return &FixtureBroker{holdings: holdings}
}

// SampleHoldings returns the sample portfolio
func SampleHoldings() []models.Holding {
	return []models.Holding{
		sampleHolding("INE002A01018", "RELIANCE", "10", "2450.50", "2520.00"),
		sampleHolding("INE467B01029", "TATAELXSI", "5", "6800.00", "7150.00"),
		sampleHolding("INE009A01021", "INFY", "20", "1520.00", "1485.00"),
		sampleHolding("INE040A01034", "HDFCBANK", "15", "1650.00", "1720.00"),
	}
}

func sampleHolding(isin, symbol, qty, avg, cur string) models.Holding {
	price := decimal.RequireFromString(cur)
	return models.Holding{
		ISIN:          isin,
		TradingSymbol: symbol,
		Quantity:      decimal.RequireFromString(qty),
		AveragePrice:  decimal.RequireFromString(avg),
		CurrentPrice:  &price,
	}
}

// FetchHoldings returns a copy of the fixture holdings
func (b *FixtureBroker) FetchHoldings(ctx context.Context) ([]models.Holding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Holding, len(b.holdings))
	for i, h := range b.holdings {
		out[i] = h.Clone()
	}
	return out, nil
}

// FetchLTP returns the fixture current prices for the requested symbols
func (b *FixtureBroker) FetchLTP(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		for _, h := range b.holdings {
			if strings.EqualFold(h.TradingSymbol, s) {
				prices[ExchangeSymbol(s)] = h.EffectivePrice()
				break
			}
		}
	}
	return prices, nil
}
