package errors

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Mapper maps domain errors to HTTP status codes
type Mapper struct {
	logger zerolog.Logger
}

// NewMapper creates a new error mapper
func NewMapper(logger zerolog.Logger) *Mapper {
	return &Mapper{logger: logger}
}

// MapErrorToHTTP maps an error to HTTP status code and message.
// RetryAfter is non-zero only for rate-limit errors carrying an explicit wait.
func (m *Mapper) MapErrorToHTTP(err error) (status int, message string, retryAfter int) {
	if err == nil {
		return fasthttp.StatusOK, "", 0
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return fasthttp.StatusBadRequest, validationErr.Error(), 0
	}

	var sessionInvalidErr *SessionInvalidError
	if errors.As(err, &sessionInvalidErr) {
		return fasthttp.StatusUnauthorized, "please re-authorize: " + sessionInvalidErr.Error(), 0
	}

	var transitionErr *IllegalStateTransitionError
	if errors.As(err, &transitionErr) {
		m.logger.Error().Err(err).Msg("illegal session state transition")
		return fasthttp.StatusUnauthorized, "please re-authorize: " + transitionErr.Error(), 0
	}

	var twoFactorErr *TwoFactorRequiredError
	if errors.As(err, &twoFactorErr) {
		return fasthttp.StatusPreconditionRequired, twoFactorErr.Error(), 0
	}

	var tooManyErr *TooManyRequestsError
	if errors.As(err, &tooManyErr) {
		return fasthttp.StatusTooManyRequests, tooManyErr.Error(), tooManyErr.RetryAfter
	}

	var unauthorizedErr *UnauthorizedError
	if errors.As(err, &unauthorizedErr) {
		return fasthttp.StatusUnauthorized, unauthorizedErr.Error(), 0
	}

	var permissionErr *PermissionError
	if errors.As(err, &permissionErr) {
		return fasthttp.StatusForbidden, permissionErr.Error(), 0
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return fasthttp.StatusNotFound, notFoundErr.Error(), 0
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return fasthttp.StatusConflict, conflictErr.Error(), 0
	}

	var serviceUnavailableErr *ServiceUnavailableError
	if errors.As(err, &serviceUnavailableErr) {
		return fasthttp.StatusServiceUnavailable, serviceUnavailableErr.Error(), 0
	}

	var internalErr *InternalError
	if errors.As(err, &internalErr) {
		m.logger.Error().Err(err).Msg("internal server error")
		return fasthttp.StatusInternalServerError, internalErr.Error(), 0
	}

	if status, ok := m.mapSentinel(err); ok {
		return status, err.Error(), 0
	}

	m.logger.Error().Err(err).Msg("unknown error")
	return fasthttp.StatusInternalServerError, "internal server error", 0
}

// mapSentinel maps the domain's sentinel errors. They live here rather than
// in the domain package to keep transport concerns out of it.
func (m *Mapper) mapSentinel(err error) (int, bool) {
	var sentinels = []struct {
		match  string
		status int
	}{
		{"session not found", fasthttp.StatusNotFound},
		{"auth flow not found", fasthttp.StatusNotFound},
		{"auth flow expired", fasthttp.StatusGone},
		{"auth flow is not in the required state", fasthttp.StatusConflict},
		{"session owner mismatch", fasthttp.StatusConflict},
		{"too many pending auth flows", fasthttp.StatusTooManyRequests},
		{"not connected to Telegram", fasthttp.StatusServiceUnavailable},
	}
	for _, s := range sentinels {
		if err.Error() == s.match {
			return s.status, true
		}
	}
	return 0, false
}
