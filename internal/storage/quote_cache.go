package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const quoteKeyPrefix = "ltp"

// QuoteCache holds last traded prices keyed by exchange symbol (for example
// NSE_RELIANCE) so repeated syncs within the TTL skip the quote endpoint.
type QuoteCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewQuoteCache creates a quote cache with the given TTL
func NewQuoteCache(redis *RedisCache, ttl time.Duration) *QuoteCache {
	return &QuoteCache{redis: redis, ttl: ttl}
}

// QuoteKey returns the cache key for an exchange symbol
// Format: ltp:<exchange_symbol>
func QuoteKey(exchangeSymbol string) string {
	return quoteKeyPrefix + ":" + strings.ToUpper(exchangeSymbol)
}

// GetQuotes returns the cached prices for the symbols that are present.
// Missing or unparsable entries are left out of the result.
func (c *QuoteCache) GetQuotes(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	quotes := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return quotes, nil
	}

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = QuoteKey(s)
	}

	values, err := c.redis.Client().MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read quotes: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		quotes[symbols[i]] = price
	}
	return quotes, nil
}

// SetQuotes stores prices with the configured TTL in one pipeline
func (c *QuoteCache) SetQuotes(ctx context.Context, quotes map[string]decimal.Decimal) error {
	if len(quotes) == 0 {
		return nil
	}

	_, err := c.redis.Client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for symbol, price := range quotes {
			pipe.Set(ctx, QuoteKey(symbol), price.String(), c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write quotes: %w", err)
	}
	return nil
}

// Invalidate removes cached prices for the given symbols
func (c *QuoteCache) Invalidate(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = QuoteKey(s)
	}
	return c.redis.Client().Del(ctx, keys...).Err()
}
