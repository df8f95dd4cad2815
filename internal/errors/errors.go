package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/bucket-tracker/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents malformed or invalid request input
	CategoryValidation ErrorCategory = "validation"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents broker transport, auth and parse errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryStorage represents persistence gateway errors
	CategoryStorage ErrorCategory = "storage"
	// CategoryCache represents quote cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Error codes
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeInternal         = "INTERNAL_ERROR"
	CodeBroker           = "BROKER_ERROR"
	CodeBrokerAuth       = "BROKER_AUTH_FAILED"
	CodeBrokerTimeout    = "BROKER_TIMEOUT"
	CodeBrokerRateLimit  = "BROKER_RATE_LIMIT"
	CodeEmptyFetch       = "EMPTY_FETCH"
	CodeStorage          = "STORAGE_ERROR"
	CodeCache            = "CACHE_ERROR"
	CodeRateLimit        = "RATE_LIMIT_EXCEEDED"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewStorageError creates a persistence error
func NewStorageError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStorage,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeStorage,
		Message:    fmt.Sprintf("storage error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCache,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimit,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// Broker errors

// NewBrokerError creates a broker transport or parse error
func NewBrokerError(broker string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeBroker,
		Message:    fmt.Sprintf("failed to fetch from %s", broker),
		Cause:      cause,
		Details: map[string]interface{}{
			"broker": broker,
		},
	}
}

// NewBrokerAuthError creates a broker authentication error
func NewBrokerAuthError(broker string, reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeBrokerAuth,
		Message:    fmt.Sprintf("%s authentication failed: %s", broker, reason),
		Cause:      cause,
		Details: map[string]interface{}{
			"broker": broker,
		},
	}
}

// NewBrokerTimeoutError creates a broker timeout error
func NewBrokerTimeoutError(broker string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeBrokerTimeout,
		Message:    fmt.Sprintf("%s timed out", broker),
		Details: map[string]interface{}{
			"broker": broker,
		},
	}
}

// NewBrokerRateLimitError creates a broker rate limit error
func NewBrokerRateLimitError(broker string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeBrokerRateLimit,
		Message:    fmt.Sprintf("%s rate limit exceeded", broker),
		Details: map[string]interface{}{
			"broker": broker,
		},
	}
}

// NewEmptyFetchError is returned when the broker reports zero holdings while
// holdings are stored locally
func NewEmptyFetchError(stored int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusConflict,
		Code:       CodeEmptyFetch,
		Message:    fmt.Sprintf("broker returned no holdings while %d are stored; keeping stored holdings", stored),
		Details: map[string]interface{}{
			"stored": stored,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err categorizes to the given code
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Code {
	case CodeBrokerAuth, CodeEmptyFetch:
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
