package domain

import (
	"context"
	"time"
)

// SessionRepository is the persistence contract for Session records.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)

	// FindInitializing returns an existing initializing record for the
	// owner and app credentials, so repeated auth starts reuse one row.
	FindInitializing(ctx context.Context, ownerID string, apiID int, apiHash string) (*Session, error)

	// FindActiveByOwner filters on both status = active and is_active = true;
	// the two flags are kept in sync by the lifecycle manager, never
	// independently.
	FindActiveByOwner(ctx context.Context, ownerID string) ([]*Session, error)

	// ListByOwner returns all sessions for the owner ordered by recency.
	ListByOwner(ctx context.Context, ownerID string) ([]*Session, error)

	// ListAll returns every session ordered by recency (admin surface).
	ListAll(ctx context.Context) ([]*Session, error)

	// Update persists all mutable fields of the record.
	Update(ctx context.Context, session *Session) error

	// UpdateStatus persists a status change together with the is_active
	// flag and, on entry into invalid, the reason.
	UpdateStatus(ctx context.Context, id string, status SessionStatus, isActive bool, invalidReason *string) error

	// Touch refreshes last_used_at.
	Touch(ctx context.Context, id string) error

	Delete(ctx context.Context, id string) error

	// FindCleanupCandidates returns terminal sessions idle past retention.
	FindCleanupCandidates(ctx context.Context, retention time.Duration) ([]*Session, error)

	// FindStaleInitializing returns initializing sessions older than the
	// staleness window (abandoned handshakes).
	FindStaleInitializing(ctx context.Context, staleness time.Duration) ([]*Session, error)
}
