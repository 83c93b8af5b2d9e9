package errors

import "net/http"

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Authentication
const (
	ErrCodeUnauthenticated ErrorCode = "unauthenticated"
	ErrCodeNotEntitled     ErrorCode = "not_entitled"
)

// Payment protocol errors
const (
	ErrCodeInvalidArgument     ErrorCode = "invalid_argument"
	ErrCodeSignatureMismatch   ErrorCode = "signature_mismatch"
	ErrCodeOrderCreationFailed ErrorCode = "order_creation_failed"
)

// Request validation errors
const (
	ErrCodeInvalidBody   ErrorCode = "invalid_body"
	ErrCodeMissingField  ErrorCode = "missing_field"
	ErrCodeNotFound      ErrorCode = "not_found"
	ErrCodeUpstreamError ErrorCode = "upstream_error"
	ErrCodeRateLimited   ErrorCode = "rate_limited"
)

// Internal/System Errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeUnavailable   ErrorCode = "service_unavailable"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient gateway/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeOrderCreationFailed,
		ErrCodeUpstreamError,
		ErrCodeRateLimited,
		ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized

	case ErrCodeNotEntitled:
		return http.StatusForbidden

	// A forged or mismatched signature is the caller's fault, not ours.
	case ErrCodeInvalidArgument,
		ErrCodeSignatureMismatch,
		ErrCodeInvalidBody,
		ErrCodeMissingField:
		return http.StatusBadRequest

	case ErrCodeNotFound:
		return http.StatusNotFound

	case ErrCodeRateLimited:
		return http.StatusTooManyRequests

	case ErrCodeUpstreamError:
		return http.StatusBadGateway

	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// CallableStatus maps the code onto the status vocabulary used by
// Firebase callable functions ("UNAUTHENTICATED", "INVALID_ARGUMENT", ...).
func (e ErrorCode) CallableStatus() string {
	switch e {
	case ErrCodeUnauthenticated:
		return "UNAUTHENTICATED"
	case ErrCodeNotEntitled:
		return "PERMISSION_DENIED"
	case ErrCodeInvalidArgument, ErrCodeSignatureMismatch, ErrCodeInvalidBody, ErrCodeMissingField:
		return "INVALID_ARGUMENT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeRateLimited:
		return "RESOURCE_EXHAUSTED"
	case ErrCodeUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
