package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/bucket-tracker/internal/errors"
	"github.com/bucket-tracker/internal/logging"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// FailureResponse is the body of every unsuccessful JSON response
type FailureResponse struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondSuccess sends {"success": true} merged with fields.
func respondSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	respondJSON(w, http.StatusOK, body)
}

// respondServiceError maps a service error to a failure response. Storage and
// internal causes are logged but not exposed.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := failureFromError(err)
	respondJSON(w, status, body)
	logServiceError(r, err)
}

// failureFromError builds the failure body from the error's ServiceError
// form, with the user-facing message in place of the raw one.
func failureFromError(err error) (int, FailureResponse) {
	catErr := apperrors.Categorize(err)
	if catErr == nil {
		catErr = apperrors.NewInternalError("an internal error occurred", nil)
	}
	svcErr := catErr.ToServiceError()
	return catErr.StatusCode, FailureResponse{
		Success: false,
		Error:   publicMessage(catErr),
		Code:    svcErr.Code,
		Details: svcErr.Details,
	}
}

func logServiceError(r *http.Request, err error) {
	logger := logging.FromContext(r.Context()).WithError(err)
	if apperrors.IsUserError(err) {
		logger.Warn("Request failed")
	} else {
		logger.Error("Request failed")
	}
}

// publicMessage returns the message shown to the user. Broker errors include
// their cause since that is what the user needs to fix credentials or retry.
func publicMessage(err error) string {
	catErr := apperrors.Categorize(err)
	if catErr == nil {
		return "an internal error occurred"
	}
	if catErr.Category == apperrors.CategoryProvider && catErr.Cause != nil {
		return catErr.Message + ": " + catErr.Cause.Error()
	}
	return catErr.Message
}

// parseJSONBody decodes a JSON object body into v. An empty body decodes as
// an empty object. Unknown fields are ignored.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.NewInvalidParameterError("body", err.Error())
	}
	if decoder.More() {
		return apperrors.NewInvalidParameterError("body", "unexpected data after JSON object")
	}
	return nil
}
