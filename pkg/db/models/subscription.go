package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
)

// Subscription caches the Stripe subscription state of a user. UpdatedAt is
// written explicitly by the store so the refresh window can be measured.
type Subscription struct {
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;primaryKey"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex"`
	PriceID              string                   `gorm:"column:price_id;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (Subscription) TableName() string { return "stripe_subscriptions" }

// GrantsAccess reports whether the cached status unlocks paid features.
func (s *Subscription) GrantsAccess() bool {
	return s != nil && s.Status.GrantsAccess()
}
