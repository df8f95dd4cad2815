// Package adapter provides broker gateways that fetch holdings and quotes.
package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/models"
)

// Broker fetches the user's holdings and last traded prices. A non-nil error
// means the fetch failed; an empty slice with a nil error means the account
// genuinely holds nothing.
type Broker interface {
	FetchHoldings(ctx context.Context) ([]models.Holding, error)
	FetchLTP(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// QuoteCache stores last traded prices keyed by exchange symbol
type QuoteCache interface {
	GetQuotes(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	SetQuotes(ctx context.Context, quotes map[string]decimal.Decimal) error
}
