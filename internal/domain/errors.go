package domain

import (
	"errors"
	"fmt"
)

// Error is the single error type for the queue core taxonomy.
//
// Errors include:
//   - Configuration: missing or invalid scoring constants (fatal to the operation)
//   - Conflict: version mismatch after the guard exhausted its retries
//   - Scope exceeded: optimizer scan cap reached (non-fatal warning)
//   - Delivery failed: acknowledgment not received in time (non-fatal)
//   - Cache invalidation: derived cache could not be evicted (non-fatal)
//   - Illegal transition: state machine edge does not exist
//   - Not found: referenced entity is missing from the store
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the affected entity, if any.
	EntityID string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes queue core errors.
type ErrorCode string

const (
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeScopeExceeded     ErrorCode = "SCOPE_EXCEEDED"
	ErrCodeDeliveryFailed    ErrorCode = "DELIVERY_FAILED"
	ErrCodeCacheInvalidation ErrorCode = "CACHE_INVALIDATION"
	ErrCodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return hasCode(err, ErrCodeConfiguration) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsScopeExceeded reports whether err is a scope-exceeded warning.
func IsScopeExceeded(err error) bool { return hasCode(err, ErrCodeScopeExceeded) }

// IsDeliveryFailure reports whether err is a delivery failure.
func IsDeliveryFailure(err error) bool { return hasCode(err, ErrCodeDeliveryFailed) }

// IsCacheInvalidation reports whether err is a cache invalidation failure.
func IsCacheInvalidation(err error) bool { return hasCode(err, ErrCodeCacheInvalidation) }

// IsIllegalTransition reports whether err is an illegal state transition.
func IsIllegalTransition(err error) bool { return hasCode(err, ErrCodeIllegalTransition) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// NewConfigurationError creates an Error for a missing or invalid constant.
func NewConfigurationError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError creates an Error for a version conflict on the given entities.
func NewConflictError(attempts int, keys ...string) *Error {
	e := &Error{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("version conflict after %d attempts", attempts),
		Details: map[string]string{"attempts": fmt.Sprintf("%d", attempts)},
	}
	if len(keys) == 1 {
		e.EntityID = keys[0]
	} else if len(keys) > 1 {
		e.Details["entities"] = fmt.Sprintf("%v", keys)
	}
	return e
}

// NewScopeExceededError creates the warning raised when a scan hits its cap.
func NewScopeExceededError(limit int) *Error {
	return &Error{
		Code:    ErrCodeScopeExceeded,
		Message: fmt.Sprintf("scan cap reached, processing oldest %d waiting items", limit),
		Details: map[string]string{"cap": fmt.Sprintf("%d", limit)},
	}
}

// NewDeliveryError creates an Error for an event that could not be delivered.
func NewDeliveryError(eventID, subscriber string, attempts int) *Error {
	return &Error{
		Code:     ErrCodeDeliveryFailed,
		Message:  fmt.Sprintf("no acknowledgment after %d attempts", attempts),
		EntityID: eventID,
		Details:  map[string]string{"subscriber": subscriber},
	}
}

// NewCacheInvalidationError creates an Error for keys that could not be evicted.
func NewCacheInvalidationError(keys []string, cause error) *Error {
	return &Error{
		Code:    ErrCodeCacheInvalidation,
		Message: fmt.Sprintf("failed to invalidate %d keys: %v", len(keys), cause),
		Details: map[string]string{"keys": fmt.Sprintf("%v", keys)},
	}
}

// NewTransitionError creates an Error for a state machine edge that does not exist.
func NewTransitionError(id string, from, to any) *Error {
	return &Error{
		Code:     ErrCodeIllegalTransition,
		Message:  fmt.Sprintf("illegal transition %v -> %v", from, to),
		EntityID: id,
	}
}

// NewNotFoundError creates an Error for a missing entity.
func NewNotFoundError(ref EntityRef) *Error {
	return &Error{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%s not found", ref.Kind),
		EntityID: ref.ID,
	}
}
