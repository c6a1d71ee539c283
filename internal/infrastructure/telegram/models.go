package telegram

import (
	"time"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
)

// SessionModel represents the database row for one Telegram user session
type SessionModel struct {
	ID            string  `gorm:"primaryKey;size:36"`
	OwnerID       string  `gorm:"index;not null;size:64"`
	PhoneNumber   *string `gorm:"size:32;index"`
	APIID         int     `gorm:"not null;column:api_id"`
	APIHash       string  `gorm:"not null;size:64;column:api_hash"`
	EncryptedBlob string  `gorm:"type:text"`
	IsActive      bool    `gorm:"not null;default:false;index"`
	Status        string  `gorm:"not null;default:'initializing';size:16;index"`
	InvalidReason *string `gorm:"type:text"`
	DatacenterID  *int
	LastUsedAt    *time.Time
	IPAddress     *string   `gorm:"size:64"`
	UserAgent     *string   `gorm:"size:256"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for SessionModel
func (SessionModel) TableName() string {
	return "telegram_sessions"
}

func (m *SessionModel) toDomain() *domain.Session {
	return &domain.Session{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		PhoneNumber:   m.PhoneNumber,
		APIID:         m.APIID,
		APIHash:       m.APIHash,
		EncryptedBlob: m.EncryptedBlob,
		IsActive:      m.IsActive,
		Status:        domain.SessionStatus(m.Status),
		InvalidReason: m.InvalidReason,
		DatacenterID:  m.DatacenterID,
		LastUsedAt:    m.LastUsedAt,
		IPAddress:     m.IPAddress,
		UserAgent:     m.UserAgent,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func modelFromDomain(s *domain.Session) *SessionModel {
	return &SessionModel{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		PhoneNumber:   s.PhoneNumber,
		APIID:         s.APIID,
		APIHash:       s.APIHash,
		EncryptedBlob: s.EncryptedBlob,
		IsActive:      s.IsActive,
		Status:        string(s.Status),
		InvalidReason: s.InvalidReason,
		DatacenterID:  s.DatacenterID,
		LastUsedAt:    s.LastUsedAt,
		IPAddress:     s.IPAddress,
		UserAgent:     s.UserAgent,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
