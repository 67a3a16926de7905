package models

import (
	"time"

	"github.com/google/uuid"
)

// StripeCustomer links a user to its Stripe customer id.
type StripeCustomer struct {
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	StripeCustomerID string    `gorm:"column:stripe_customer_id;not null;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (StripeCustomer) TableName() string { return "stripe_customers" }
