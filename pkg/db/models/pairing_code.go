package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PairingCode is a short-lived one-time code a user types into the desktop app.
type PairingCode struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code      string     `gorm:"column:code;not null;uniqueIndex"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null"`
	UsedAt    *time.Time `gorm:"column:used_at"`
}

func (PairingCode) TableName() string { return "device_pairing_codes" }

func (p *PairingCode) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsValid reports whether the code is unused and not yet expired.
func (p PairingCode) IsValid(now time.Time) bool {
	return p.UsedAt == nil && now.Before(p.ExpiresAt)
}
