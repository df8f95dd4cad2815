package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bucket-tracker/internal/errors"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/types"
)

// Mock store and broker for testing

type mockStore struct {
	mu       sync.Mutex
	holdings []models.Holding
	buckets  []models.Bucket
	config   models.AppConfig
	saveErr  error
	saves    map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{saves: map[string]int{}}
}

func (m *mockStore) LoadHoldings(ctx context.Context) ([]models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Holding, len(m.holdings))
	for i, h := range m.holdings {
		out[i] = h.Clone()
	}
	return out, nil
}

func (m *mockStore) SaveHoldings(ctx context.Context, holdings []models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves["holdings"]++
	m.holdings = holdings
	return nil
}

func (m *mockStore) LoadBuckets(ctx context.Context) ([]models.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Bucket(nil), m.buckets...), nil
}

func (m *mockStore) SaveBuckets(ctx context.Context, buckets []models.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves["buckets"]++
	m.buckets = buckets
	return nil
}

func (m *mockStore) LoadConfig(ctx context.Context) (*models.AppConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.config
	return &cfg, nil
}

func (m *mockStore) SaveConfig(ctx context.Context, cfg *models.AppConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves["config"]++
	m.config = *cfg
	return nil
}

type mockBroker struct {
	holdings []models.Holding
	err      error
	calls    int
}

func (m *mockBroker) FetchHoldings(ctx context.Context) ([]models.Holding, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.holdings, nil
}

func (m *mockBroker) FetchLTP(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, m.err
}

var fixedNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func newTestService(store *mockStore, broker *mockBroker, allowEmpty bool) *PortfolioService {
	ids := 0
	return NewPortfolioService(store, broker, PortfolioServiceConfig{
		AllowEmptySync: allowEmpty,
		BrokerName:     "groww",
		Now:            func() time.Time { return fixedNow },
		NewBucketID: func() string {
			ids++
			return "bucket_test_" + string(rune('0'+ids))
		},
	})
}

func TestPortfolioService_Sync(t *testing.T) {
	store := newMockStore()
	store.holdings = []models.Holding{
		{ISIN: "A", Quantity: dec("5"), AveragePrice: dec("100"), BucketID: strPtr("b1"), PurchasedBy: provPtr(types.ProvenanceHuman)},
		{ISIN: "OLD", Quantity: dec("1"), AveragePrice: dec("10")},
	}
	broker := &mockBroker{holdings: []models.Holding{
		{ISIN: "A", TradingSymbol: "X", Quantity: dec("6"), AveragePrice: dec("105")},
		{ISIN: "NEW", TradingSymbol: "N", Quantity: dec("2"), AveragePrice: dec("50")},
	}}
	svc := newTestService(store, broker, false)

	result, err := svc.Sync(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "Sync completed", result.Message)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Removed)

	require.Len(t, store.holdings, 2)
	assert.Equal(t, "b1", *store.holdings[0].BucketID)
	assert.True(t, store.holdings[0].Quantity.Equal(dec("6")))
	assert.Nil(t, store.holdings[1].BucketID)

	require.NotNil(t, store.config.LastSync)
	assert.True(t, store.config.LastSync.Equal(fixedNow))
}

func TestPortfolioService_SyncBrokerFailureLeavesState(t *testing.T) {
	store := newMockStore()
	store.holdings = []models.Holding{{ISIN: "A", BucketID: strPtr("b1")}}
	broker := &mockBroker{err: stderrors.New("connection refused")}
	svc := newTestService(store, broker, false)

	_, err := svc.Sync(testContext(t))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBroker))
	assert.Contains(t, err.Error(), "failed to fetch from groww")
	assert.Zero(t, store.saves["holdings"])
	assert.Nil(t, store.config.LastSync)
}

func TestPortfolioService_SyncKeepsProviderErrors(t *testing.T) {
	store := newMockStore()
	broker := &mockBroker{err: apperrors.NewBrokerAuthError("groww", "missing API key", nil)}
	svc := newTestService(store, broker, false)

	_, err := svc.Sync(testContext(t))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBrokerAuth))
}

func TestPortfolioService_SyncEmptyFetch(t *testing.T) {
	t.Run("refused while holdings are stored", func(t *testing.T) {
		store := newMockStore()
		store.holdings = []models.Holding{{ISIN: "A"}}
		svc := newTestService(store, &mockBroker{holdings: []models.Holding{}}, false)

		_, err := svc.Sync(testContext(t))
		assert.True(t, apperrors.HasCode(err, apperrors.CodeEmptyFetch))
		assert.Len(t, store.holdings, 1)
	})

	t.Run("accepted when allowed", func(t *testing.T) {
		store := newMockStore()
		store.holdings = []models.Holding{{ISIN: "A"}}
		svc := newTestService(store, &mockBroker{holdings: []models.Holding{}}, true)

		result, err := svc.Sync(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Removed)
		assert.Empty(t, store.holdings)
	})

	t.Run("accepted with nothing stored", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, &mockBroker{}, false)

		_, err := svc.Sync(testContext(t))
		require.NoError(t, err)
		assert.NotNil(t, store.config.LastSync)
	})
}

func TestPortfolioService_AssignHolding(t *testing.T) {
	store := newMockStore()
	store.holdings = []models.Holding{{ISIN: "A"}, {ISIN: "B", BucketID: strPtr("b1")}}
	svc := newTestService(store, &mockBroker{}, false)
	ctx := testContext(t)

	require.NoError(t, svc.AssignHolding(ctx, "A", strPtr("b2"), nil))
	assert.Equal(t, "b2", *store.holdings[0].BucketID)
	assert.Equal(t, types.ProvenanceHuman, *store.holdings[0].PurchasedBy)

	require.NoError(t, svc.AssignHolding(ctx, "A", strPtr("b2"), strPtr("agent")))
	assert.Equal(t, types.Provenance("agent"), *store.holdings[0].PurchasedBy)

	require.NoError(t, svc.AssignHolding(ctx, "B", nil, nil))
	assert.Nil(t, store.holdings[1].BucketID)

	saves := store.saves["holdings"]
	require.NoError(t, svc.AssignHolding(ctx, "UNKNOWN", strPtr("b1"), nil))
	assert.Equal(t, saves+1, store.saves["holdings"])
	assert.Nil(t, store.holdings[1].BucketID)
}

func TestPortfolioService_CreateBucket(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockBroker{}, false)
	ctx := testContext(t)

	bucket, err := svc.CreateBucket(ctx, models.BucketPatch{})
	require.NoError(t, err)
	assert.Equal(t, "bucket_test_1", bucket.ID)
	assert.Equal(t, models.DefaultBucketName, bucket.Name)
	assert.Empty(t, bucket.Philosophy)
	assert.True(t, bucket.GrowthTarget.IsZero())
	require.NotNil(t, bucket.CreatedAt)
	assert.True(t, bucket.CreatedAt.Equal(fixedNow))
	assert.Nil(t, bucket.LastSync)

	target := dec("12.5")
	second, err := svc.CreateBucket(ctx, models.BucketPatch{Name: strPtr("Core"), GrowthTarget: &target})
	require.NoError(t, err)
	assert.Equal(t, "Core", second.Name)

	require.Len(t, store.buckets, 2)
	assert.Equal(t, bucket.ID, store.buckets[0].ID)
	assert.Equal(t, second.ID, store.buckets[1].ID)
}

func TestPortfolioService_UpdateBucket(t *testing.T) {
	store := newMockStore()
	store.buckets = []models.Bucket{{ID: "b1", Name: "Core", Philosophy: "Quality"}}
	svc := newTestService(store, &mockBroker{}, false)
	ctx := testContext(t)

	require.NoError(t, svc.UpdateBucket(ctx, "b1", models.BucketPatch{Name: strPtr("Core v2")}))
	assert.Equal(t, "Core v2", store.buckets[0].Name)
	assert.Equal(t, "Quality", store.buckets[0].Philosophy)

	saves := store.saves["buckets"]
	require.NoError(t, svc.UpdateBucket(ctx, "missing", models.BucketPatch{Name: strPtr("x")}))
	assert.Equal(t, saves, store.saves["buckets"])
}

func TestPortfolioService_DeleteBucket(t *testing.T) {
	store := newMockStore()
	store.buckets = []models.Bucket{{ID: "b1", Name: "Core"}, {ID: "b2", Name: "Growth"}}
	store.holdings = []models.Holding{
		{ISIN: "A", BucketID: strPtr("b1"), PurchasedBy: provPtr(types.ProvenanceHuman)},
		{ISIN: "B", BucketID: strPtr("b1")},
		{ISIN: "C", BucketID: strPtr("b2")},
	}
	svc := newTestService(store, &mockBroker{}, false)

	require.NoError(t, svc.DeleteBucket(testContext(t), "b1"))

	require.Len(t, store.buckets, 1)
	assert.Equal(t, "b2", store.buckets[0].ID)
	assert.Nil(t, store.holdings[0].BucketID)
	assert.Nil(t, store.holdings[1].BucketID)
	assert.NotNil(t, store.holdings[0].PurchasedBy)
	assert.Equal(t, "b2", *store.holdings[2].BucketID)
}

func TestPortfolioService_DeleteUnknownBucket(t *testing.T) {
	store := newMockStore()
	store.buckets = []models.Bucket{{ID: "b1"}}
	svc := newTestService(store, &mockBroker{}, false)

	require.NoError(t, svc.DeleteBucket(testContext(t), "nope"))
	assert.Len(t, store.buckets, 1)
	assert.Zero(t, store.saves["buckets"])
	assert.Zero(t, store.saves["holdings"])
}

func TestPortfolioService_ToggleValues(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, &mockBroker{}, false)
	ctx := testContext(t)

	hidden, err := svc.ToggleValues(ctx)
	require.NoError(t, err)
	assert.True(t, hidden)
	assert.True(t, store.config.ValuesHidden)

	hidden, err = svc.ToggleValues(ctx)
	require.NoError(t, err)
	assert.False(t, hidden)
}

func TestPortfolioService_Dashboard(t *testing.T) {
	store := newMockStore()
	store.buckets = []models.Bucket{{ID: "b1", Name: "Core"}}
	store.holdings = []models.Holding{
		{ISIN: "A", Quantity: dec("10"), AveragePrice: dec("100"), CurrentPrice: decPtr("110"), BucketID: strPtr("b1")},
	}
	store.config.ValuesHidden = true
	svc := newTestService(store, &mockBroker{}, false)

	dash, err := svc.Dashboard(testContext(t))
	require.NoError(t, err)
	assert.Len(t, dash.Holdings, 1)
	assert.Len(t, dash.Buckets, 1)
	assert.True(t, dash.ValuesHidden)
	assert.True(t, dash.Stats.TotalGrowth.Equal(dec("10")))

	b1, ok := dash.Stats.Buckets.Get("b1")
	require.True(t, ok)
	assert.Equal(t, 1, b1.HoldingsCount)
}

func TestPortfolioService_SaveFailure(t *testing.T) {
	store := newMockStore()
	store.saveErr = stderrors.New("disk full")
	svc := newTestService(store, &mockBroker{}, false)

	_, err := svc.ToggleValues(testContext(t))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStorage))
	assert.ErrorIs(t, err, store.saveErr)
}

func TestPortfolioService_ConcurrentAssign(t *testing.T) {
	store := newMockStore()
	for i := 0; i < 20; i++ {
		store.holdings = append(store.holdings, models.Holding{ISIN: string(rune('A' + i))})
	}
	svc := newTestService(store, &mockBroker{}, false)
	ctx := testContext(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(isin string) {
			defer wg.Done()
			assert.NoError(t, svc.AssignHolding(ctx, isin, strPtr("b1"), nil))
		}(string(rune('A' + i)))
	}
	wg.Wait()

	for _, h := range store.holdings {
		require.NotNil(t, h.BucketID, "holding %s lost its assignment", h.ISIN)
		assert.Equal(t, "b1", *h.BucketID)
	}
}
