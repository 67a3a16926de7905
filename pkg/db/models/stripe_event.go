package models

import "time"

// StripeEvent is the processed-event ledger row keyed by the Stripe event id.
type StripeEvent struct {
	EventID   string    `gorm:"column:event_id;primaryKey"`
	EventType string    `gorm:"column:event_type;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (StripeEvent) TableName() string { return "stripe_events" }
