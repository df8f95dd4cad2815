// Package api provides the HTTP server: the dashboard page and the JSON API.
package api

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/service"
)

//go:embed web
var webFS embed.FS

// PortfolioServiceInterface defines the portfolio operations the handlers use
type PortfolioServiceInterface interface {
	Dashboard(ctx context.Context) (*service.Dashboard, error)
	Stats(ctx context.Context) (*models.PortfolioStats, error)
	Holdings(ctx context.Context) ([]models.Holding, error)
	Buckets(ctx context.Context) ([]models.Bucket, error)
	Sync(ctx context.Context) (*service.SyncResult, error)
	AssignHolding(ctx context.Context, isin string, bucketID *string, purchasedBy *string) error
	CreateBucket(ctx context.Context, input models.BucketPatch) (*models.Bucket, error)
	UpdateBucket(ctx context.Context, id string, patch models.BucketPatch) error
	DeleteBucket(ctx context.Context, id string) error
	ToggleValues(ctx context.Context) (bool, error)
}

// Server represents the HTTP server.
type Server struct {
	router           *mux.Router
	httpServer       *http.Server
	portfolioService PortfolioServiceInterface
	dashboard        *template.Template
	logger           *logging.Logger
	config           *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int // Per-client request rate
	Burst             int // Per-client burst size
}

// NewServer creates a new server instance.
func NewServer(config *ServerConfig, portfolioService PortfolioServiceInterface, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	tmpl, err := template.New("dashboard.html").Funcs(templateFuncs).ParseFS(webFS, "web/templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}

	s := &Server{
		router:           mux.NewRouter(),
		portfolioService: portfolioService,
		dashboard:        tmpl,
		logger:           logger,
		config:           config,
	}

	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() error {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Order matters: logging first so it sees recovered panics and 429s.
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	if err := s.setupRoutes(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	return nil
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() error {
	s.router.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		return fmt.Errorf("failed to open static assets: %w", err)
	}
	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.FS(static))),
	).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/stats", s.handleGetStats).Methods(http.MethodGet)
	api.HandleFunc("/holdings", s.handleGetHoldings).Methods(http.MethodGet)
	api.HandleFunc("/buckets", s.handleGetBuckets).Methods(http.MethodGet)

	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/holding/{isin}/assign", s.handleAssignHolding).Methods(http.MethodPost)

	api.HandleFunc("/bucket", s.handleCreateBucket).Methods(http.MethodPost)
	api.HandleFunc("/bucket/{id}", s.handleUpdateBucket).Methods(http.MethodPut)
	api.HandleFunc("/bucket/{id}", s.handleDeleteBucket).Methods(http.MethodDelete)

	api.HandleFunc("/toggle-values", s.handleToggleValues).Methods(http.MethodPost)

	// Preflight requests are answered by CORSMiddleware, but mux only runs
	// middleware for matched routes.
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return nil
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "bucket-tracker",
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
