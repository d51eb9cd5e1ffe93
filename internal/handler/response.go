package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tracking/internal/auth"
	"tracking/internal/realtime"
	"tracking/internal/repository"
	"tracking/internal/service"
)

// Error codes carried by outbound error events.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError sends an error response with the appropriate HTTP status code.
// Internal errors never leak their message.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(code, ErrorResponse{Error: msg, Code: mapErrorToEventCode(err)})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

func isValidationError(err error) bool {
	return errors.Is(err, service.ErrInvalidOrderID) ||
		errors.Is(err, service.ErrInvalidDriverID) ||
		errors.Is(err, service.ErrInvalidIdentity) ||
		errors.Is(err, service.ErrInvalidLocation) ||
		errors.Is(err, service.ErrInvalidHeading) ||
		errors.Is(err, service.ErrInvalidSpeed) ||
		errors.Is(err, service.ErrInvalidStatus) ||
		errors.Is(err, errMalformedPayload)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrNoActiveDelivery):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case isValidationError(err):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrIdentityMismatch):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, realtime.ErrNotConnected):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrTransitionInProgress):
		return http.StatusConflict

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// mapErrorToEventCode maps service/repository errors to error event codes.
func mapErrorToEventCode(err error) string {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrNoActiveDelivery):
		return CodeNotFound
	case isValidationError(err):
		return CodeValidation
	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrIdentityMismatch):
		return CodeUnauthenticated
	case errors.Is(err, service.ErrPermissionDenied),
		errors.Is(err, realtime.ErrNotConnected):
		return CodePermissionDenied
	case errors.Is(err, service.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, service.ErrTransitionInProgress):
		return CodeConflict
	default:
		return CodeInternal
	}
}
