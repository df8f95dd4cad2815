package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
)

// AssignRequest is the body of POST /api/holding/{isin}/assign
type AssignRequest struct {
	BucketID    *string `json:"bucket_id"`
	PurchasedBy *string `json:"purchased_by"`
}

// handleGetStats handles GET /api/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.portfolioService.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleGetHoldings handles GET /api/holdings
func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.portfolioService.Holdings(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if holdings == nil {
		holdings = []models.Holding{}
	}
	respondJSON(w, http.StatusOK, holdings)
}

// handleGetBuckets handles GET /api/buckets
func (s *Server) handleGetBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.portfolioService.Buckets(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if buckets == nil {
		buckets = []models.Bucket{}
	}
	respondJSON(w, http.StatusOK, buckets)
}

// handleSync handles POST /api/sync. Failures are reported in the body with
// a 200 status so the dashboard can show the message.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.portfolioService.Sync(r.Context())
	if err != nil {
		logServiceError(r, err)
		_, body := failureFromError(err)
		respondJSON(w, http.StatusOK, body)
		return
	}

	respondSuccess(w, map[string]interface{}{
		"message":   result.Message,
		"fetched":   result.Fetched,
		"added":     result.Added,
		"removed":   result.Removed,
		"synced_at": result.SyncedAt,
	})
}

// handleAssignHolding handles POST /api/holding/{isin}/assign
func (s *Server) handleAssignHolding(w http.ResponseWriter, r *http.Request) {
	isin := mux.Vars(r)["isin"]

	var req AssignRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	// The assign form submits "" for "no bucket".
	if req.BucketID != nil && *req.BucketID == "" {
		req.BucketID = nil
	}
	if req.PurchasedBy != nil && *req.PurchasedBy == "" {
		req.PurchasedBy = nil
	}

	if err := s.portfolioService.AssignHolding(r.Context(), isin, req.BucketID, req.PurchasedBy); err != nil {
		respondServiceError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).WithField("isin", isin).Debug("Holding assigned")
	respondSuccess(w, nil)
}

// handleCreateBucket handles POST /api/bucket
func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var req models.BucketPatch
	if err := parseJSONBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	bucket, err := s.portfolioService.CreateBucket(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, map[string]interface{}{"bucket": bucket})
}

// handleUpdateBucket handles PUT /api/bucket/{id}
func (s *Server) handleUpdateBucket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.BucketPatch
	if err := parseJSONBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.portfolioService.UpdateBucket(r.Context(), id, req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, nil)
}

// handleDeleteBucket handles DELETE /api/bucket/{id}
func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.portfolioService.DeleteBucket(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, nil)
}

// handleToggleValues handles POST /api/toggle-values
func (s *Server) handleToggleValues(w http.ResponseWriter, r *http.Request) {
	hidden, err := s.portfolioService.ToggleValues(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, map[string]interface{}{"hidden": hidden})
}
