// Package storage provides the persistence gateway and cache implementations.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
)

// Document names, one per collection
const (
	DocHoldings = "holdings"
	DocBuckets  = "buckets"
	DocConfig   = "config"
)

var (
	// ErrDocumentNotFound is returned by a DocumentStore for a missing document
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentUnreadable is returned when a document exists but cannot be read
	ErrDocumentUnreadable = errors.New("document unreadable")
)

// DocumentStore reads and replaces whole named JSON documents
type DocumentStore interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Close() error
}

// CollectionStore exposes the three typed collections on top of a
// DocumentStore. Missing, unreadable or corrupt documents load as their
// defaults; backend failures other than those are returned.
type CollectionStore struct {
	docs   DocumentStore
	logger *logging.Logger
}

// NewCollectionStore creates a new collection store
func NewCollectionStore(docs DocumentStore, logger *logging.Logger) *CollectionStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CollectionStore{docs: docs, logger: logger.WithField("component", "storage")}
}

// EnsureDefaults writes the default document for every collection that does
// not exist yet
func (s *CollectionStore) EnsureDefaults(ctx context.Context) error {
	defaults := []struct {
		name  string
		value interface{}
	}{
		{DocHoldings, []models.Holding{}},
		{DocBuckets, []models.Bucket{}},
		{DocConfig, models.DefaultAppConfig()},
	}

	for _, d := range defaults {
		_, err := s.docs.Read(ctx, d.name)
		if err == nil || !errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err := s.save(ctx, d.name, d.value); err != nil {
			return err
		}
		s.logger.WithField("document", d.name).Info("Created default document")
	}
	return nil
}

// LoadHoldings returns all stored holdings
func (s *CollectionStore) LoadHoldings(ctx context.Context) ([]models.Holding, error) {
	holdings := []models.Holding{}
	if err := s.load(ctx, DocHoldings, &holdings); err != nil {
		return nil, err
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}
	return holdings, nil
}

// SaveHoldings replaces the holdings collection
func (s *CollectionStore) SaveHoldings(ctx context.Context, holdings []models.Holding) error {
	if holdings == nil {
		holdings = []models.Holding{}
	}
	return s.save(ctx, DocHoldings, holdings)
}

// LoadBuckets returns all stored buckets in stored order
func (s *CollectionStore) LoadBuckets(ctx context.Context) ([]models.Bucket, error) {
	buckets := []models.Bucket{}
	if err := s.load(ctx, DocBuckets, &buckets); err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []models.Bucket{}
	}
	return buckets, nil
}

// SaveBuckets replaces the buckets collection
func (s *CollectionStore) SaveBuckets(ctx context.Context, buckets []models.Bucket) error {
	if buckets == nil {
		buckets = []models.Bucket{}
	}
	return s.save(ctx, DocBuckets, buckets)
}

// LoadConfig returns the stored config record
func (s *CollectionStore) LoadConfig(ctx context.Context) (*models.AppConfig, error) {
	cfg := models.DefaultAppConfig()
	if err := s.load(ctx, DocConfig, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig replaces the config record
func (s *CollectionStore) SaveConfig(ctx context.Context, cfg *models.AppConfig) error {
	if cfg == nil {
		cfg = models.DefaultAppConfig()
	}
	return s.save(ctx, DocConfig, cfg)
}

// Close closes the underlying document store
func (s *CollectionStore) Close() error {
	return s.docs.Close()
}

// load decodes a document into dest, leaving dest untouched when the document
// is missing or cannot be used
func (s *CollectionStore) load(ctx context.Context, name string, dest interface{}) error {
	data, err := s.docs.Read(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, ErrDocumentNotFound):
		return nil
	case errors.Is(err, ErrDocumentUnreadable):
		s.logger.WithError(err).WithField("document", name).Warn("Document unreadable, using default")
		return nil
	default:
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.WithError(err).WithField("document", name).Warn("Document corrupt, using default")
		return resetTo(dest)
	}
	return nil
}

func (s *CollectionStore) save(ctx context.Context, name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	if err := s.docs.Write(ctx, name, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// resetTo restores dest to the collection default after a failed decode
func resetTo(dest interface{}) error {
	switch v := dest.(type) {
	case *[]models.Holding:
		*v = []models.Holding{}
	case *[]models.Bucket:
		*v = []models.Bucket{}
	case *models.AppConfig:
		*v = *models.DefaultAppConfig()
	default:
		return fmt.Errorf("unsupported document type %T", dest)
	}
	return nil
}
