package errors

import (
	"fmt"
	"strings"
)

type baseError struct {
	message string
}

func (e *baseError) Error() string {
	return e.message
}

// ValidationError represents a validation error (HTTP 400)
type ValidationError struct {
	baseError
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError{message: message}}
}

func NewValidationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{baseError{message: fmt.Sprintf(format, args...)}}
}

// UnauthorizedError represents an authentication error (HTTP 401)
type UnauthorizedError struct {
	baseError
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{baseError{message: message}}
}

func NewUnauthorizedErrorf(format string, args ...interface{}) *UnauthorizedError {
	return &UnauthorizedError{baseError{message: fmt.Sprintf(format, args...)}}
}

// PermissionError represents a permission error (HTTP 403)
type PermissionError struct {
	baseError
}

func NewPermissionError(message string) *PermissionError {
	return &PermissionError{baseError{message: message}}
}

func NewPermissionErrorf(format string, args ...interface{}) *PermissionError {
	return &PermissionError{baseError{message: fmt.Sprintf(format, args...)}}
}

// NotFoundError represents a not found error (HTTP 404)
type NotFoundError struct {
	baseError
}

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{baseError{message: message}}
}

func NewNotFoundErrorf(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{baseError{message: fmt.Sprintf(format, args...)}}
}

// ConflictError represents a conflict error (HTTP 409)
type ConflictError struct {
	baseError
}

func NewConflictError(message string) *ConflictError {
	return &ConflictError{baseError{message: message}}
}

func NewConflictErrorf(format string, args ...interface{}) *ConflictError {
	return &ConflictError{baseError{message: fmt.Sprintf(format, args...)}}
}

// SessionInvalidError means the stored session material is unusable: the
// blob is corrupt, the ciphertext format is wrong, the authentication tag
// failed, or the record status forbids use. The only recovery is
// re-authorization.
type SessionInvalidError struct {
	baseError
}

func NewSessionInvalidError(message string) *SessionInvalidError {
	return &SessionInvalidError{baseError{message: message}}
}

func NewSessionInvalidErrorf(format string, args ...interface{}) *SessionInvalidError {
	return &SessionInvalidError{baseError{message: fmt.Sprintf(format, args...)}}
}

// IllegalStateTransitionError reports a session status change outside the
// allowed edge set. It names the offending record and the legal targets.
type IllegalStateTransitionError struct {
	baseError
	ContextID string
	From      string
	To        string
	Allowed   []string
}

func NewIllegalStateTransitionError(contextID, from, to string, allowed []string) *IllegalStateTransitionError {
	targets := "none"
	if len(allowed) > 0 {
		targets = strings.Join(allowed, ", ")
	}
	return &IllegalStateTransitionError{
		baseError: baseError{message: fmt.Sprintf(
			"illegal session state transition %s -> %s for %s (allowed targets from %s: %s)",
			from, to, contextID, from, targets,
		)},
		ContextID: contextID,
		From:      from,
		To:        to,
		Allowed:   allowed,
	}
}

// TwoFactorRequiredError means the end user must supply (or resupply) a 2FA
// password or a fresh confirmation code. It never invalidates the session.
type TwoFactorRequiredError struct {
	baseError
}

func NewTwoFactorRequiredError(message string) *TwoFactorRequiredError {
	return &TwoFactorRequiredError{baseError{message: message}}
}

// TooManyRequestsError represents a rate limit (HTTP 429). RetryAfter is the
// server-provided wait in seconds; zero means no explicit delay was given.
type TooManyRequestsError struct {
	baseError
	RetryAfter int
}

func NewTooManyRequestsError(message string, retryAfter int) *TooManyRequestsError {
	return &TooManyRequestsError{baseError{message: message}, retryAfter}
}

// InternalError represents an internal server error (HTTP 500)
type InternalError struct {
	baseError
}

func NewInternalError(message string) *InternalError {
	return &InternalError{baseError{message: message}}
}

func NewInternalErrorf(format string, args ...interface{}) *InternalError {
	return &InternalError{baseError{message: fmt.Sprintf(format, args...)}}
}

// ServiceUnavailableError represents a service unavailable error (HTTP 503)
type ServiceUnavailableError struct {
	baseError
}

func NewServiceUnavailableError(message string) *ServiceUnavailableError {
	return &ServiceUnavailableError{baseError{message: message}}
}

func NewServiceUnavailableErrorf(format string, args ...interface{}) *ServiceUnavailableError {
	return &ServiceUnavailableError{baseError{message: fmt.Sprintf(format, args...)}}
}
