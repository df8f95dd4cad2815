package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bucket-tracker/internal/circuitbreaker"
	apperrors "github.com/bucket-tracker/internal/errors"
	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/retry"
	"github.com/bucket-tracker/internal/types"
)

const (
	brokerName   = "groww"
	holdingsPath = "/v1/holdings/user"
	ltpPath      = "/v1/live-data/ltp"
	apiVersion   = "1.0"

	// LTPBatchSize is the most symbols the quote endpoint accepts per call
	LTPBatchSize = 50

	maxResponseBytes = 10 << 20
	statusSuccess    = "SUCCESS"
)

// GrowwConfig configures the Groww client
type GrowwConfig struct {
	BaseURL           string
	Credentials       models.BrokerCredentials
	RequestsPerSecond int
	Timeout           time.Duration
	Retry             *retry.RetryConfig
	Breaker           *circuitbreaker.Config
	// Quotes caches last traded prices between syncs. Optional.
	Quotes QuoteCache
	// Now overrides the clock used for auth checksums and TOTP codes
	Now func() time.Time
}

// GrowwClient talks to the Groww trading API. Every outbound request is
// throttled, and each logical call is retried with backoff behind a circuit
// breaker.
type GrowwClient struct {
	cfg     GrowwConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger

	tokenMu sync.Mutex
	token   string
}

// NewGrowwClient creates a new Groww API client
func NewGrowwClient(cfg GrowwConfig, logger *logging.Logger) *GrowwClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groww.in"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	retryCfg := retry.DefaultRetryConfig()
	if cfg.Retry != nil {
		*retryCfg = *cfg.Retry
	}
	if retryCfg.Retryable == nil {
		retryCfg.Retryable = apperrors.IsRetryable
	}
	cfg.Retry = retryCfg

	breakerCfg := circuitbreaker.DefaultConfig(brokerName)
	if cfg.Breaker != nil {
		*breakerCfg = *cfg.Breaker
	}
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = apperrors.IsRetryable
	}
	cfg.Breaker = breakerCfg
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &GrowwClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		breaker: circuitbreaker.NewCircuitBreaker(cfg.Breaker),
		logger:  logger.WithField("broker", brokerName),
	}
}

// BreakerState returns the state of the client's circuit breaker
func (c *GrowwClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

type envelope struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type holdingsPayload struct {
	Holdings []growwHolding `json:"holdings"`
}

type growwHolding struct {
	ISIN           string          `json:"isin"`
	TradingSymbol  string          `json:"trading_symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	T1Quantity     decimal.Decimal `json:"t1_quantity"`
	PledgeQuantity decimal.Decimal `json:"pledge_quantity"`
}

// FetchHoldings fetches the user's holdings and enriches them with last
// traded prices. A price lookup failure is logged and leaves prices unset.
func (c *GrowwClient) FetchHoldings(ctx context.Context) ([]models.Holding, error) {
	var payload holdingsPayload
	err := c.call(ctx, func(ctx context.Context) error {
		data, err := c.authorizedGet(ctx, holdingsPath, nil)
		if err != nil {
			return err
		}
		return decodePayload(data, &payload)
	})
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithField("broker", brokerName)
	holdings := make([]models.Holding, 0, len(payload.Holdings))
	for _, h := range payload.Holdings {
		if strings.TrimSpace(h.ISIN) == "" {
			logger.WithField("trading_symbol", h.TradingSymbol).Warn("Skipping holding without ISIN")
			continue
		}
		holdings = append(holdings, models.Holding{
			ISIN:           strings.TrimSpace(h.ISIN),
			TradingSymbol:  strings.TrimSpace(h.TradingSymbol),
			Quantity:       h.Quantity,
			AveragePrice:   h.AveragePrice,
			T1Quantity:     h.T1Quantity,
			PledgeQuantity: h.PledgeQuantity,
		})
	}

	c.enrichWithPrices(ctx, holdings)

	logger.WithField("count", len(holdings)).Info("Fetched holdings")
	return holdings, nil
}

// FetchLTP returns last traded prices for NSE symbols keyed by exchange
// symbol, for example NSE_INFY. Symbols without a quote are left out.
func (c *GrowwClient) FetchLTP(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = ExchangeSymbol(s)
	}
	return c.ltp(ctx, keys)
}

func (c *GrowwClient) enrichWithPrices(ctx context.Context, holdings []models.Holding) {
	if len(holdings) == 0 {
		return
	}

	keys := make([]string, len(holdings))
	for i, h := range holdings {
		keys[i] = ExchangeSymbol(h.TradingSymbol)
	}

	prices, err := c.ltp(ctx, keys)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("broker", brokerName).
			Warn("Failed to fetch prices, falling back to stored prices")
		return
	}

	for i := range holdings {
		if p, ok := prices[keys[i]]; ok {
			price := p
			holdings[i].CurrentPrice = &price
		}
	}
}

// ltp resolves exchange symbols from the quote cache first and fetches the
// rest in batches
func (c *GrowwClient) ltp(ctx context.Context, keys []string) (map[string]decimal.Decimal, error) {
	keys = uniqueStrings(keys)
	prices := make(map[string]decimal.Decimal, len(keys))
	logger := logging.FromContext(ctx).WithField("broker", brokerName)

	missing := keys
	if c.cfg.Quotes != nil && len(keys) > 0 {
		cached, err := c.cfg.Quotes.GetQuotes(ctx, keys)
		if err != nil {
			logger.WithError(err).Warn("Quote cache read failed")
		} else {
			missing = make([]string, 0, len(keys))
			for _, k := range keys {
				if p, ok := cached[k]; ok {
					prices[k] = p
				} else {
					missing = append(missing, k)
				}
			}
		}
	}

	fetched := make(map[string]decimal.Decimal, len(missing))
	for start := 0; start < len(missing); start += LTPBatchSize {
		end := start + LTPBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		err := c.call(ctx, func(ctx context.Context) error {
			query := url.Values{}
			query.Set("segment", "CASH")
			query.Set("exchange_symbols", strings.Join(batch, ","))

			data, err := c.authorizedGet(ctx, ltpPath, query)
			if err != nil {
				return err
			}

			var quotes map[string]*decimal.Decimal
			if err := decodePayload(data, &quotes); err != nil {
				return err
			}
			for k, v := range quotes {
				if v != nil {
					fetched[strings.ToUpper(k)] = *v
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if c.cfg.Quotes != nil && len(fetched) > 0 {
		if err := c.cfg.Quotes.SetQuotes(ctx, fetched); err != nil {
			logger.WithError(err).Warn("Quote cache write failed")
		}
	}
	for k, v := range fetched {
		prices[k] = v
	}
	return prices, nil
}

// call runs fn with retries behind the circuit breaker
func (c *GrowwClient) call(ctx context.Context, fn func(ctx context.Context) error) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.WithRetry(ctx, c.cfg.Retry, func(ctx context.Context, attempt int) error {
			return fn(ctx)
		})
	})
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return apperrors.NewBrokerError(brokerName, err)
	}
	return err
}

// authorizedGet performs a GET with the cached access token. A rejected
// token is dropped so the next call authenticates again.
func (c *GrowwClient) authorizedGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodGet, path, query, nil, token)
	if apperrors.HasCode(err, apperrors.CodeBrokerAuth) {
		c.invalidateToken()
	}
	return data, err
}

// doRequest performs one throttled HTTP request and maps failures to
// categorized errors
func (c *GrowwClient) doRequest(ctx context.Context, method, path string, query url.Values, body []byte, bearer string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(err)
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-VERSION", apiVersion)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewBrokerAuthError(brokerName, fmt.Sprintf("HTTP %d", resp.StatusCode), bodyError(data))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewBrokerRateLimitError(brokerName)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, apperrors.NewBrokerError(brokerName,
			fmt.Errorf("HTTP %d: %w", resp.StatusCode, bodyError(data)))
	}

	return data, nil
}

// decodePayload unwraps the {status, payload, error} envelope into dest
func decodePayload(data []byte, dest interface{}) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return apperrors.NewBrokerError(brokerName, fmt.Errorf("failed to decode response: %w", err))
	}
	if env.Status != "" && env.Status != statusSuccess {
		return apperrors.NewBrokerError(brokerName, bodyError(data))
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		return apperrors.NewBrokerError(brokerName, fmt.Errorf("failed to decode payload: %w", err))
	}
	return nil
}

// bodyError extracts a readable error from a response body
func bodyError(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = "empty response"
	}
	return stderrors.New(msg)
}

func transportError(err error) error {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewBrokerTimeoutError(brokerName)
	}
	return apperrors.NewBrokerError(brokerName, err)
}

// ExchangeSymbol maps a trading symbol to the quote key. An NSE- or BSE-
// prefix selects the exchange; everything else is looked up on NSE.
func ExchangeSymbol(tradingSymbol string) string {
	symbol := strings.ToUpper(strings.TrimSpace(tradingSymbol))
	exchange := types.ExchangeNSE
	if prefix, rest, ok := strings.Cut(symbol, "-"); ok && rest != "" {
		switch types.Exchange(prefix) {
		case types.ExchangeNSE, types.ExchangeBSE:
			exchange = types.Exchange(prefix)
			symbol = rest
		}
	}
	return string(exchange) + "_" + symbol
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
