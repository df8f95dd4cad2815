// Package service holds the bucket tracker's business logic: reconciliation,
// statistics and the request-level orchestration around them.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bucket-tracker/internal/adapter"
	apperrors "github.com/bucket-tracker/internal/errors"
	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/types"
)

// Store is the persistence gateway used by the portfolio service
type Store interface {
	LoadHoldings(ctx context.Context) ([]models.Holding, error)
	SaveHoldings(ctx context.Context, holdings []models.Holding) error
	LoadBuckets(ctx context.Context) ([]models.Bucket, error)
	SaveBuckets(ctx context.Context, buckets []models.Bucket) error
	LoadConfig(ctx context.Context) (*models.AppConfig, error)
	SaveConfig(ctx context.Context, cfg *models.AppConfig) error
}

// PortfolioServiceConfig tunes the portfolio service
type PortfolioServiceConfig struct {
	// AllowEmptySync accepts a broker result with zero holdings even when
	// holdings are stored, which clears them.
	AllowEmptySync bool
	// BrokerName is used in error messages
	BrokerName string
	// Now overrides the clock
	Now func() time.Time
	// NewBucketID overrides bucket id generation
	NewBucketID func() string
}

// PortfolioService orchestrates every user action as a read-modify-write
// against the store. One mutex serializes those sequences.
type PortfolioService struct {
	store  Store
	broker adapter.Broker
	cfg    PortfolioServiceConfig
	mu     sync.Mutex
}

// Dashboard is everything the dashboard page renders
type Dashboard struct {
	Holdings     []models.Holding      `json:"holdings"`
	Buckets      []models.Bucket       `json:"buckets"`
	Stats        models.PortfolioStats `json:"stats"`
	LastSync     *models.Timestamp     `json:"last_sync"`
	ValuesHidden bool                  `json:"values_hidden"`
}

// SyncResult summarizes a successful sync
type SyncResult struct {
	Message  string    `json:"message"`
	Fetched  int       `json:"fetched"`
	Added    int       `json:"added"`
	Removed  int       `json:"removed"`
	SyncedAt time.Time `json:"synced_at"`
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(store Store, broker adapter.Broker, cfg PortfolioServiceConfig) *PortfolioService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewBucketID == nil {
		cfg.NewBucketID = newBucketID
	}
	if cfg.BrokerName == "" {
		cfg.BrokerName = "broker"
	}
	return &PortfolioService{
		store:  store,
		broker: broker,
		cfg:    cfg,
	}
}

func newBucketID() string {
	return "bucket_" + uuid.NewString()
}

// Dashboard loads the stored state and computes stats over it
func (s *PortfolioService) Dashboard(ctx context.Context) (*Dashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, buckets, err := s.loadHoldingsAndBuckets(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := s.store.LoadConfig(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load config", err)
	}

	return &Dashboard{
		Holdings:     holdings,
		Buckets:      buckets,
		Stats:        ComputeStats(holdings, buckets),
		LastSync:     cfg.LastSync,
		ValuesHidden: cfg.ValuesHidden,
	}, nil
}

// Stats computes portfolio statistics over the stored state
func (s *PortfolioService) Stats(ctx context.Context) (*models.PortfolioStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, buckets, err := s.loadHoldingsAndBuckets(ctx)
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(holdings, buckets)
	return &stats, nil
}

// Holdings returns the stored holdings
func (s *PortfolioService) Holdings(ctx context.Context) ([]models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, err := s.store.LoadHoldings(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load holdings", err)
	}
	return holdings, nil
}

// Buckets returns the stored buckets
func (s *PortfolioService) Buckets(ctx context.Context) ([]models.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, err := s.store.LoadBuckets(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load buckets", err)
	}
	return buckets, nil
}

// Sync fetches holdings from the broker and reconciles them with the stored
// holdings. A broker failure leaves stored state untouched. An empty fetch
// while holdings are stored is refused unless AllowEmptySync is set.
func (s *PortfolioService) Sync(ctx context.Context) (*SyncResult, error) {
	logger := logging.FromContext(ctx).WithField("operation", "sync")

	// The broker call happens outside the lock so slow fetches do not block
	// other actions.
	fetched, err := s.broker.FetchHoldings(ctx)
	if err != nil {
		logger.WithError(err).Error("Broker fetch failed")
		if apperrors.Categorize(err).Category == apperrors.CategoryProvider {
			return nil, err
		}
		return nil, apperrors.NewBrokerError(s.cfg.BrokerName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.LoadHoldings(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load holdings", err)
	}

	if len(fetched) == 0 && len(current) > 0 && !s.cfg.AllowEmptySync {
		logger.WithField("stored", len(current)).Warn("Broker returned no holdings, keeping stored holdings")
		return nil, apperrors.NewEmptyFetchError(len(current))
	}

	merged := MergeHoldings(current, fetched)
	if err := s.store.SaveHoldings(ctx, merged); err != nil {
		return nil, apperrors.NewStorageError("save holdings", err)
	}

	cfg, err := s.store.LoadConfig(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load config", err)
	}
	now := s.cfg.Now()
	cfg.LastSync = models.NewTimestamp(now)
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		return nil, apperrors.NewStorageError("save config", err)
	}

	result := &SyncResult{
		Message:  "Sync completed",
		Fetched:  len(fetched),
		SyncedAt: now,
	}
	result.Added, result.Removed = diffISINs(current, merged)

	logger.WithFields(map[string]interface{}{
		"fetched": result.Fetched,
		"added":   result.Added,
		"removed": result.Removed,
	}).Info("Sync completed")

	return result, nil
}

// AssignHolding sets the bucket and provenance of the first holding with the
// given ISIN. A nil bucketID clears the assignment and a nil purchasedBy
// records human provenance. An unknown ISIN changes nothing.
func (s *PortfolioService) AssignHolding(ctx context.Context, isin string, bucketID *string, purchasedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holdings, err := s.store.LoadHoldings(ctx)
	if err != nil {
		return apperrors.NewStorageError("load holdings", err)
	}

	provenance := types.ProvenanceHuman
	if purchasedBy != nil {
		provenance = types.Provenance(*purchasedBy)
	}

	found := false
	for i := range holdings {
		if holdings[i].ISIN != isin {
			continue
		}
		if bucketID != nil {
			id := *bucketID
			holdings[i].BucketID = &id
		} else {
			holdings[i].BucketID = nil
		}
		p := provenance
		holdings[i].PurchasedBy = &p
		found = true
		break
	}

	if !found {
		logging.FromContext(ctx).WithField("isin", isin).Debug("Assign for unknown holding ignored")
	}

	if err := s.store.SaveHoldings(ctx, holdings); err != nil {
		return apperrors.NewStorageError("save holdings", err)
	}
	return nil
}

// CreateBucket appends a new bucket built from the provided fields. Missing
// fields take their defaults.
func (s *PortfolioService) CreateBucket(ctx context.Context, input models.BucketPatch) (*models.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, err := s.store.LoadBuckets(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("load buckets", err)
	}

	bucket := models.Bucket{
		ID:        s.cfg.NewBucketID(),
		Name:      models.DefaultBucketName,
		CreatedAt: models.NewTimestamp(s.cfg.Now()),
	}
	input.Apply(&bucket)

	buckets = append(buckets, bucket)
	if err := s.store.SaveBuckets(ctx, buckets); err != nil {
		return nil, apperrors.NewStorageError("save buckets", err)
	}

	logging.FromContext(ctx).WithField("bucket_id", bucket.ID).Info("Bucket created")
	return &bucket, nil
}

// UpdateBucket applies the patch to the bucket with the given id. An unknown
// id changes nothing.
func (s *PortfolioService) UpdateBucket(ctx context.Context, id string, patch models.BucketPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, err := s.store.LoadBuckets(ctx)
	if err != nil {
		return apperrors.NewStorageError("load buckets", err)
	}

	for i := range buckets {
		if buckets[i].ID == id {
			patch.Apply(&buckets[i])
			if err := s.store.SaveBuckets(ctx, buckets); err != nil {
				return apperrors.NewStorageError("save buckets", err)
			}
			return nil
		}
	}

	logging.FromContext(ctx).WithField("bucket_id", id).Debug("Update for unknown bucket ignored")
	return nil
}

// DeleteBucket removes the bucket and unassigns every holding that referenced
// it. Holdings keep their provenance.
func (s *PortfolioService) DeleteBucket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets, err := s.store.LoadBuckets(ctx)
	if err != nil {
		return apperrors.NewStorageError("load buckets", err)
	}

	kept := make([]models.Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	if len(kept) != len(buckets) {
		if err := s.store.SaveBuckets(ctx, kept); err != nil {
			return apperrors.NewStorageError("save buckets", err)
		}
	}

	holdings, err := s.store.LoadHoldings(ctx)
	if err != nil {
		return apperrors.NewStorageError("load holdings", err)
	}

	cleared := 0
	for i := range holdings {
		if holdings[i].InBucket(id) {
			holdings[i].BucketID = nil
			cleared++
		}
	}
	if cleared > 0 {
		if err := s.store.SaveHoldings(ctx, holdings); err != nil {
			return apperrors.NewStorageError("save holdings", err)
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"bucket_id": id,
		"removed":   len(buckets) - len(kept),
		"cleared":   cleared,
	}).Info("Bucket deleted")
	return nil
}

// ToggleValues flips the values-hidden flag and returns the new value
func (s *PortfolioService) ToggleValues(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.store.LoadConfig(ctx)
	if err != nil {
		return false, apperrors.NewStorageError("load config", err)
	}

	cfg.ValuesHidden = !cfg.ValuesHidden
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		return false, apperrors.NewStorageError("save config", err)
	}
	return cfg.ValuesHidden, nil
}

func (s *PortfolioService) loadHoldingsAndBuckets(ctx context.Context) ([]models.Holding, []models.Bucket, error) {
	holdings, err := s.store.LoadHoldings(ctx)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("load holdings", err)
	}
	buckets, err := s.store.LoadBuckets(ctx)
	if err != nil {
		return nil, nil, apperrors.NewStorageError("load buckets", err)
	}
	return holdings, buckets, nil
}

// diffISINs counts ISINs that appear only in after (added) and only in
// before (removed)
func diffISINs(before, after []models.Holding) (added, removed int) {
	seen := make(map[string]bool, len(before))
	for _, h := range before {
		seen[h.ISIN] = false
	}
	for _, h := range after {
		if _, ok := seen[h.ISIN]; ok {
			seen[h.ISIN] = true
		} else {
			added++
		}
	}
	for _, kept := range seen {
		if !kept {
			removed++
		}
	}
	return added, removed
}
