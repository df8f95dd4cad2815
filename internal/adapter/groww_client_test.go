package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucket-tracker/internal/circuitbreaker"
	apperrors "github.com/bucket-tracker/internal/errors"
	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/retry"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

// fakeGroww is an in-memory stand-in for the Groww API
type fakeGroww struct {
	t *testing.T

	mu            sync.Mutex
	holdingsBody  string
	holdingStatus int
	ltp           map[string]float64
	ltpStatus     int
	ltpRequests   [][]string
	tokenStatus   int
	tokenRequests []tokenRequest
	tokenCalls    int32
	holdingCalls  int32
}

func newFakeGroww(t *testing.T) *fakeGroww {
	return &fakeGroww{
		t: t,
		holdingsBody: `{"status":"SUCCESS","payload":{"holdings":[
			{"isin":"INE002A01018","trading_symbol":"RELIANCE","quantity":10,"average_price":2450.5,"t1_quantity":1,"pledge_quantity":0},
			{"isin":"INE009A01021","trading_symbol":"INFY","quantity":20,"average_price":1520}
		]}}`,
		ltp: map[string]float64{"NSE_RELIANCE": 2520, "NSE_INFY": 1485.25},
	}
}

func (f *fakeGroww) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		assert.Equal(f.t, "Bearer test-key", r.Header.Get("Authorization"))

		var req tokenRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.tokenRequests = append(f.tokenRequests, req)
		status := f.tokenStatus
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"status":"FAILURE","error":{"code":"GA001","message":"invalid api key"}}`))
			return
		}

		_ = json.NewEncoder(w).Encode(tokenResponse{Token: "access-token"})
	})
	mux.HandleFunc(holdingsPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.holdingCalls, 1)
		if r.Header.Get("Authorization") != "Bearer access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(f.t, apiVersion, r.Header.Get("X-API-VERSION"))

		f.mu.Lock()
		status, body := f.holdingStatus, f.holdingsBody
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc(ltpPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "CASH", r.URL.Query().Get("segment"))
		symbols := strings.Split(r.URL.Query().Get("exchange_symbols"), ",")

		f.mu.Lock()
		f.ltpRequests = append(f.ltpRequests, symbols)
		status := f.ltpStatus
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"status":"FAILURE","error":{"code":"GA000","message":"quotes unavailable"}}`))
			return
		}

		payload := map[string]float64{}
		for _, s := range symbols {
			if p, ok := f.ltp[s]; ok {
				payload[s] = p
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "SUCCESS", "payload": payload})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeGroww, creds models.BrokerCredentials, quotes QuoteCache) *GrowwClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	return NewGrowwClient(GrowwConfig{
		BaseURL:           srv.URL,
		Credentials:       creds,
		RequestsPerSecond: 100,
		Timeout:           5 * time.Second,
		Retry:             &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Breaker:           &circuitbreaker.Config{Name: "groww-test", MaxFailures: 3, Timeout: time.Minute},
		Quotes:            quotes,
		Now:               func() time.Time { return testNow },
	}, logging.NewNopLogger())
}

func secretCreds() models.BrokerCredentials {
	return models.BrokerCredentials{APIKey: "test-key", APISecret: "test-secret"}
}

func TestGrowwClient_FetchHoldings(t *testing.T) {
	fake := newFakeGroww(t)
	client := newTestClient(t, fake, secretCreds(), nil)

	holdings, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 2)

	assert.Equal(t, "INE002A01018", holdings[0].ISIN)
	assert.Equal(t, "RELIANCE", holdings[0].TradingSymbol)
	assert.True(t, holdings[0].Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, holdings[0].AveragePrice.Equal(decimal.RequireFromString("2450.5")))
	assert.True(t, holdings[0].T1Quantity.Equal(decimal.NewFromInt(1)))
	require.NotNil(t, holdings[0].CurrentPrice)
	assert.True(t, holdings[0].CurrentPrice.Equal(decimal.NewFromInt(2520)))
	require.NotNil(t, holdings[1].CurrentPrice)
	assert.True(t, holdings[1].CurrentPrice.Equal(decimal.RequireFromString("1485.25")))
	assert.Nil(t, holdings[0].BucketID)
}

func TestGrowwClient_SecretChecksum(t *testing.T) {
	fake := newFakeGroww(t)
	client := newTestClient(t, fake, secretCreds(), nil)

	_, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.tokenRequests, 1)
	req := fake.tokenRequests[0]
	assert.Equal(t, "approval", req.KeyType)
	assert.Equal(t, "1710495000", req.Timestamp)
	assert.Equal(t, checksum("test-secret", "1710495000"), req.Checksum)
	assert.Len(t, req.Checksum, 64)
}

func TestGrowwClient_TOTPAuth(t *testing.T) {
	fake := newFakeGroww(t)
	creds := models.BrokerCredentials{APIKey: "test-key", TOTPSecret: testTOTPSecret}
	client := newTestClient(t, fake, creds, nil)

	_, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.tokenRequests, 1)
	req := fake.tokenRequests[0]
	assert.Equal(t, "totp", req.KeyType)
	want, err := totp.GenerateCode(testTOTPSecret, testNow)
	require.NoError(t, err)
	assert.Equal(t, want, req.TOTP)
}

func TestGrowwClient_TokenIsCached(t *testing.T) {
	fake := newFakeGroww(t)
	client := newTestClient(t, fake, secretCreds(), nil)

	for i := 0; i < 3; i++ {
		_, err := client.FetchHoldings(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.tokenCalls))
}

func TestGrowwClient_MissingCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds models.BrokerCredentials
	}{
		{"no api key", models.BrokerCredentials{APISecret: "s"}},
		{"no secret or totp", models.BrokerCredentials{APIKey: "test-key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeGroww(t)
			client := newTestClient(t, fake, tt.creds, nil)

			_, err := client.FetchHoldings(context.Background())
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeBrokerAuth))
			assert.Zero(t, atomic.LoadInt32(&fake.holdingCalls))
		})
	}
}

func TestGrowwClient_RejectedCredentials(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			fake := newFakeGroww(t)
			fake.tokenStatus = status
			client := newTestClient(t, fake, secretCreds(), nil)

			// Two calls: the second must not block on the first one's token lock.
			for i := 0; i < 2; i++ {
				errCh := make(chan error, 1)
				go func() {
					_, err := client.FetchHoldings(context.Background())
					errCh <- err
				}()

				select {
				case err := <-errCh:
					require.Error(t, err)
					assert.True(t, apperrors.HasCode(err, apperrors.CodeBrokerAuth))
					assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)
				case <-time.After(3 * time.Second):
					t.Fatalf("FetchHoldings call %d did not return after the token endpoint answered %d", i+1, status)
				}
			}
			assert.Zero(t, atomic.LoadInt32(&fake.holdingCalls))
		})
	}
}

func TestGrowwClient_ReauthenticatesAfterRejectedToken(t *testing.T) {
	fake := newFakeGroww(t)
	fake.holdingStatus = http.StatusUnauthorized
	client := newTestClient(t, fake, secretCreds(), nil)

	_, err := client.FetchHoldings(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBrokerAuth))

	fake.mu.Lock()
	fake.holdingStatus = 0
	fake.mu.Unlock()

	holdings, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)
	assert.Len(t, holdings, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.tokenCalls))
}

func TestGrowwClient_FailureStatus(t *testing.T) {
	fake := newFakeGroww(t)
	fake.holdingsBody = `{"status":"FAILURE","error":{"code":"GA005","message":"session expired"}}`
	client := newTestClient(t, fake, secretCreds(), nil)

	_, err := client.FetchHoldings(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBroker))
	assert.Contains(t, err.Error(), "session expired")
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.holdingCalls), "broker errors are retried")
}

func TestGrowwClient_ServerErrorAndBreaker(t *testing.T) {
	fake := newFakeGroww(t)
	fake.holdingStatus = http.StatusInternalServerError
	client := newTestClient(t, fake, secretCreds(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.FetchHoldings(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.BreakerState())

	calls := atomic.LoadInt32(&fake.holdingCalls)
	_, err := client.FetchHoldings(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBroker))
	assert.Equal(t, calls, atomic.LoadInt32(&fake.holdingCalls))
}

func TestGrowwClient_PriceFailureIsNotFatal(t *testing.T) {
	fake := newFakeGroww(t)
	fake.ltpStatus = http.StatusBadGateway
	client := newTestClient(t, fake, secretCreds(), nil)

	holdings, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Nil(t, holdings[0].CurrentPrice)
}

func TestGrowwClient_EmptyHoldings(t *testing.T) {
	fake := newFakeGroww(t)
	fake.holdingsBody = `{"status":"SUCCESS","payload":{"holdings":[]}}`
	client := newTestClient(t, fake, secretCreds(), nil)

	holdings, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, holdings)
	assert.Empty(t, holdings)
	assert.Empty(t, fake.ltpRequests)
}

func TestGrowwClient_FetchLTPBatches(t *testing.T) {
	fake := newFakeGroww(t)
	client := newTestClient(t, fake, secretCreds(), nil)

	symbols := make([]string, 0, 120)
	for i := 0; i < 118; i++ {
		symbols = append(symbols, "SYM"+decimal.NewFromInt(int64(i)).String())
	}
	symbols = append(symbols, "RELIANCE", "INFY")

	prices, err := client.FetchLTP(context.Background(), symbols)
	require.NoError(t, err)

	require.Len(t, fake.ltpRequests, 3)
	assert.Len(t, fake.ltpRequests[0], LTPBatchSize)
	assert.Len(t, fake.ltpRequests[1], LTPBatchSize)
	assert.Len(t, fake.ltpRequests[2], 20)

	assert.Len(t, prices, 2)
	assert.True(t, prices["NSE_INFY"].Equal(decimal.RequireFromString("1485.25")))
}

type memoryQuotes struct {
	mu     sync.Mutex
	quotes map[string]decimal.Decimal
}

func (m *memoryQuotes) GetQuotes(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, s := range symbols {
		if p, ok := m.quotes[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (m *memoryQuotes) SetQuotes(ctx context.Context, quotes map[string]decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range quotes {
		m.quotes[k] = v
	}
	return nil
}

func TestGrowwClient_UsesQuoteCache(t *testing.T) {
	fake := newFakeGroww(t)
	quotes := &memoryQuotes{quotes: map[string]decimal.Decimal{"NSE_RELIANCE": decimal.NewFromInt(2600)}}
	client := newTestClient(t, fake, secretCreds(), quotes)

	holdings, err := client.FetchHoldings(context.Background())
	require.NoError(t, err)

	assert.True(t, holdings[0].CurrentPrice.Equal(decimal.NewFromInt(2600)), "cached price wins")
	require.Len(t, fake.ltpRequests, 1)
	assert.Equal(t, []string{"NSE_INFY"}, fake.ltpRequests[0])
	assert.Contains(t, quotes.quotes, "NSE_INFY")

	_, err = client.FetchHoldings(context.Background())
	require.NoError(t, err)
	assert.Len(t, fake.ltpRequests, 1, "second sync is served from cache")
}

func TestExchangeSymbol(t *testing.T) {
	tests := map[string]string{
		"RELIANCE":   "NSE_RELIANCE",
		"bse-TCS":    "BSE_TCS",
		"NSE-INFY":   "NSE_INFY",
		"BAJAJ-AUTO": "NSE_BAJAJ-AUTO",
		" infy ":     "NSE_INFY",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExchangeSymbol(in), in)
	}
}

func TestFixtureBroker(t *testing.T) {
	broker := NewFixtureBroker()
	ctx := context.Background()

	holdings, err := broker.FetchHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 4)
	assert.Equal(t, "RELIANCE", holdings[0].TradingSymbol)
	assert.True(t, holdings[0].AveragePrice.Equal(decimal.RequireFromString("2450.50")))

	holdings[0].TradingSymbol = "mutated"
	again, _ := broker.FetchHoldings(ctx)
	assert.Equal(t, "RELIANCE", again[0].TradingSymbol)

	prices, err := broker.FetchLTP(ctx, []string{"INFY", "UNKNOWN"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.True(t, prices["NSE_INFY"].Equal(decimal.NewFromInt(1485)))
}
