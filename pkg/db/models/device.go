package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is a paired desktop client. Rows are revoked, never deleted.
type Device struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	Label      string     `gorm:"column:label;not null"`
	TokenHash  string     `gorm:"column:token_hash;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
}

func (Device) TableName() string { return "devices" }

func (d *Device) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the device has not been revoked.
func (d Device) IsActive() bool {
	return d.RevokedAt == nil
}
