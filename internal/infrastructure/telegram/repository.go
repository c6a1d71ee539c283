package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
)

// SessionRepository implements domain.SessionRepository using PostgreSQL
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new PostgreSQL-backed session repository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(modelFromDomain(session)).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID loads one session row
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var model SessionModel
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load session: %w", result.Error)
	}
	return model.toDomain(), nil
}

// FindInitializing returns an existing initializing record for the given
// owner and app credentials, so repeated auth starts reuse one row
func (r *SessionRepository) FindInitializing(ctx context.Context, ownerID string, apiID int, apiHash string) (*domain.Session, error) {
	var model SessionModel
	result := r.db.WithContext(ctx).
		Where("owner_id = ? AND api_id = ? AND api_hash = ? AND status = ?",
			ownerID, apiID, apiHash, string(domain.StatusInitializing)).
		Order("created_at DESC").
		First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find initializing session: %w", result.Error)
	}
	return model.toDomain(), nil
}

// FindActiveByOwner filters on both status and the is_active flag; the two
// are kept in sync by the lifecycle manager
func (r *SessionRepository) FindActiveByOwner(ctx context.Context, ownerID string) ([]*domain.Session, error) {
	var models []SessionModel
	result := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND is_active = ?", ownerID, string(domain.StatusActive), true).
		Order("updated_at DESC").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find active sessions: %w", result.Error)
	}
	return toDomainSlice(models), nil
}

// ListByOwner returns every session for the owner ordered by recency
func (r *SessionRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Session, error) {
	var models []SessionModel
	result := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", result.Error)
	}
	return toDomainSlice(models), nil
}

// ListAll returns every session ordered by recency (admin surface)
func (r *SessionRepository) ListAll(ctx context.Context) ([]*domain.Session, error) {
	var models []SessionModel
	result := r.db.WithContext(ctx).Order("updated_at DESC").Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", result.Error)
	}
	return toDomainSlice(models), nil
}

// Update persists all mutable fields of the record
func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	model := modelFromDomain(session)
	result := r.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", session.ID).Updates(map[string]interface{}{
		"phone_number":   model.PhoneNumber,
		"encrypted_blob": model.EncryptedBlob,
		"is_active":      model.IsActive,
		"status":         model.Status,
		"invalid_reason": model.InvalidReason,
		"datacenter_id":  model.DatacenterID,
		"last_used_at":   model.LastUsedAt,
		"ip_address":     model.IPAddress,
		"user_agent":     model.UserAgent,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// UpdateStatus persists a status change together with the is_active flag and,
// on entry into invalid, the reason
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, isActive bool, invalidReason *string) error {
	updates := map[string]interface{}{
		"status":    string(status),
		"is_active": isActive,
	}
	if status == domain.StatusInvalid {
		updates["invalid_reason"] = invalidReason
	}

	result := r.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update session status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Touch refreshes last_used_at
func (r *SessionRepository) Touch(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", id).
		Update("last_used_at", &now).Error
}

// Delete hard-deletes a session row
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&SessionModel{}).Error
}

// FindCleanupCandidates returns terminal sessions idle past the retention window
func (r *SessionRepository) FindCleanupCandidates(ctx context.Context, retention time.Duration) ([]*domain.Session, error) {
	cutoff := time.Now().Add(-retention)
	var models []SessionModel
	result := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]string{string(domain.StatusInvalid), string(domain.StatusRevoked)}, cutoff).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find cleanup candidates: %w", result.Error)
	}
	return toDomainSlice(models), nil
}

// FindStaleInitializing returns abandoned handshakes older than the staleness window
func (r *SessionRepository) FindStaleInitializing(ctx context.Context, staleness time.Duration) ([]*domain.Session, error) {
	cutoff := time.Now().Add(-staleness)
	var models []SessionModel
	result := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.StatusInitializing), cutoff).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find stale initializing sessions: %w", result.Error)
	}
	return toDomainSlice(models), nil
}

func toDomainSlice(models []SessionModel) []*domain.Session {
	sessions := make([]*domain.Session, len(models))
	for i := range models {
		sessions[i] = models[i].toDomain()
	}
	return sessions
}

// Ensure SessionRepository implements domain.SessionRepository
var _ domain.SessionRepository = (*SessionRepository)(nil)

// gormRowStore gives the storage adapter lock-protected access to the
// encrypted blob column of one row. Writes run inside a transaction holding
// a pessimistic row lock, so the protocol library's uncoordinated handshake
// writes cannot clobber each other.
type gormRowStore struct {
	db *gorm.DB
}

func newGormRowStore(db *gorm.DB) *gormRowStore {
	return &gormRowStore{db: db}
}

func (s *gormRowStore) Load(ctx context.Context, sessionID string) (string, bool, error) {
	var model SessionModel
	result := s.db.WithContext(ctx).Select("id", "encrypted_blob").Where("id = ?", sessionID).First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, fmt.Errorf("failed to load session blob: %w", result.Error)
	}
	return model.EncryptedBlob, true, nil
}

func (s *gormRowStore) Update(ctx context.Context, sessionID string, fn func(blob string) (string, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model SessionModel
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", sessionID).
			First(&model)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return domain.ErrSessionRowMissing
		}
		if result.Error != nil {
			return fmt.Errorf("failed to lock session row: %w", result.Error)
		}

		next, err := fn(model.EncryptedBlob)
		if err != nil {
			return err
		}

		return tx.Model(&SessionModel{}).Where("id = ?", sessionID).
			Update("encrypted_blob", next).Error
	})
}
