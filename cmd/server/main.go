// Package main provides the HTTP server entry point for the bucket tracker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bucket-tracker/internal/adapter"
	"github.com/bucket-tracker/internal/api"
	"github.com/bucket-tracker/internal/config"
	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/service"
	"github.com/bucket-tracker/internal/storage"
	"github.com/bucket-tracker/internal/types"
)

func main() {
	fmt.Println("Bucket Tracker Server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":   cfg.Logging.Level,
		"format":  cfg.Logging.Format,
		"storage": cfg.Storage.Backend,
		"broker":  cfg.Broker.Mode,
	}).Info("Structured logging initialized")

	ctx := context.Background()

	// Persistence gateway
	docs, closeDocs, err := openDocumentStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer closeDocs()

	store := storage.NewCollectionStore(docs, logger)
	if err := store.EnsureDefaults(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to initialize data documents")
	}

	// Optional quote cache
	var quotes adapter.QuoteCache
	if cfg.Database.Redis.Enabled() {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
		quotes = storage.NewQuoteCache(redis, cfg.Cache.QuoteTTL)
		logger.WithField("ttl", cfg.Cache.QuoteTTL.String()).Info("Quote cache enabled")
	}

	// Broker gateway
	broker, err := newBroker(ctx, cfg, store, quotes, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize broker")
	}

	portfolioService := service.NewPortfolioService(store, broker, service.PortfolioServiceConfig{
		AllowEmptySync: cfg.Sync.AllowEmpty,
		BrokerName:     string(cfg.Broker.Mode),
	})

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Broker.Timeout*3 + 15*time.Second, // a sync may retry the broker
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.RequestsPerSecond * 2,
	}

	server, err := api.NewServer(serverConfig, portfolioService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	logger.WithField("addr", fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)).Info("Server started")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// openDocumentStore opens the configured document backend
func openDocumentStore(cfg *config.Config) (storage.DocumentStore, func(), error) {
	switch cfg.Storage.Backend {
	case types.BackendPostgres:
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return storage.NewPostgresStore(db), db.Close, nil
	default:
		fs, err := storage.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { _ = fs.Close() }, nil
	}
}

// newBroker builds the broker gateway. Credentials from the environment win
// over the ones stored in the config document.
func newBroker(ctx context.Context, cfg *config.Config, store *storage.CollectionStore, quotes adapter.QuoteCache, logger *logging.Logger) (adapter.Broker, error) {
	if cfg.Broker.Mode == types.BrokerFixture {
		logger.Warn("Using fixture broker; holdings are canned sample data")
		return adapter.NewFixtureBroker(adapter.SampleHoldings()...), nil
	}

	stored, err := store.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored credentials: %w", err)
	}
	creds := stored.Credentials().Override(models.BrokerCredentials{
		APIKey:     cfg.Broker.APIKey,
		APISecret:  cfg.Broker.APISecret,
		TOTPSecret: cfg.Broker.TOTPSecret,
	})
	if creds.APIKey == "" {
		logger.Warn("No Groww API key configured; sync will fail until one is set")
	}

	return adapter.NewGrowwClient(adapter.GrowwConfig{
		BaseURL:           cfg.Broker.BaseURL,
		Credentials:       creds,
		RequestsPerSecond: cfg.Broker.RPS,
		Timeout:           cfg.Broker.Timeout,
		Quotes:            quotes,
	}, logger.WithField("component", "groww")), nil
}
