package kiddoalert

import (
	"errors"
	"fmt"
)

// Sentinel errors - Configuration
var (
	ErrMissingBaseURL   = errors.New("kiddoalert: base URL is required")
	ErrMissingStorePath = errors.New("kiddoalert: store path is required")
	ErrMissingTokens    = errors.New("kiddoalert: token store is required")
	ErrMissingStore     = errors.New("kiddoalert: local store is required")
)

// Sentinel errors - Remote API. Every *APIError matches exactly one of these.
var (
	ErrInvalidRequest = errors.New("kiddoalert: invalid request")
	ErrDecoding       = errors.New("kiddoalert: failed to decode response")
	ErrUnauthorized   = errors.New("kiddoalert: unauthorized")
	ErrForbidden      = errors.New("kiddoalert: forbidden")
	ErrLimitExceeded  = errors.New("kiddoalert: plan limit exceeded")
	ErrNotFound       = errors.New("kiddoalert: not found")
	ErrServer         = errors.New("kiddoalert: server error")
	ErrNetwork        = errors.New("kiddoalert: network error")
	ErrUnknown        = errors.New("kiddoalert: unexpected response")
)

// Sentinel errors - Geofencing
var (
	ErrCapabilityUnavailable = errors.New("kiddoalert: region monitoring unavailable")
	ErrPermissionDenied      = errors.New("kiddoalert: location permission not granted")
)

// Sentinel errors - Local state
var (
	ErrStorePersist     = errors.New("kiddoalert: failed to persist")
	ErrStoreCorrupted   = errors.New("kiddoalert: store corrupted")
	ErrEntryNotFound    = errors.New("kiddoalert: store entry not found")
	ErrSecretsLocked    = errors.New("kiddoalert: secure store cannot be opened")
	ErrChildNotFound    = errors.New("kiddoalert: child not found")
	ErrAlertNotFound    = errors.New("kiddoalert: alert not found")
	ErrNotAuthenticated = errors.New("kiddoalert: not authenticated")
	ErrWrongRole        = errors.New("kiddoalert: operation not available for this role")
)

// limitExceededCode is the structured error code the service uses for plan limits.
const limitExceededCode = "LIMIT_EXCEEDED"

// APIError describes a failed remote call. Kind is one of the API sentinels.
type APIError struct {
	Kind       error
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("%v (HTTP %d): %s: %s", e.Kind, e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%v (HTTP %d)", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Is matches the error against its Kind sentinel.
func (e *APIError) Is(target error) bool {
	return e.Kind == target
}

// Unwrap exposes the underlying transport or decoding cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates an APIError of the given kind.
func NewAPIError(kind error, statusCode int, cause error) *APIError {
	return &APIError{
		Kind:       kind,
		StatusCode: statusCode,
		Err:        cause,
	}
}

// AsAPIError returns the *APIError in err's chain, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// OpError wraps an error with the operation and resource it happened on.
type OpError struct {
	Op       string
	Resource string
	Err      error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Resource, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapOpError wraps an error with operation context.
// Returns nil if the provided error is nil.
func WrapOpError(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{
		Op:       op,
		Resource: resource,
		Err:      err,
	}
}

// ValidationError represents a configuration or request validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// Is lets validation failures match ErrInvalidRequest.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// NewValidationError creates a new ValidationError with the given field and message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
