package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session row exists for an id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRowMissing is returned by the storage adapter when a write
	// targets a session row that was never created.
	ErrSessionRowMissing = errors.New("session row does not exist, cannot write session state")

	// ErrNotConnected is returned when an operation requires a live
	// connection and there is none.
	ErrNotConnected = errors.New("not connected to Telegram")

	// ErrOwnerMismatch is returned when a session-bound operation is
	// addressed with an owner id that disagrees with the stored record.
	ErrOwnerMismatch = errors.New("session owner mismatch")

	// ErrAuthFlowNotFound is returned when no pending auth flow exists for
	// the given key.
	ErrAuthFlowNotFound = errors.New("auth flow not found")

	// ErrAuthFlowExpired is returned when a pending auth flow outlived its
	// expiry and was purged.
	ErrAuthFlowExpired = errors.New("auth flow expired")

	// ErrAuthFlowState is returned when a pending auth flow is not in the
	// state the operation requires.
	ErrAuthFlowState = errors.New("auth flow is not in the required state")

	// ErrTooManyAuthFlows is returned when the pending auth store is full.
	ErrTooManyAuthFlows = errors.New("too many pending auth flows")
)
