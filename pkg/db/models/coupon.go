package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Coupon is an operator-managed code mapped onto a Stripe coupon or promotion code.
type Coupon struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code             string     `gorm:"column:code;not null;uniqueIndex"`
	StripeDiscountID string     `gorm:"column:stripe_discount_id;not null"`
	Active           bool       `gorm:"column:active;not null"`
	ExpiresAt        *time.Time `gorm:"column:expires_at"`
	MaxRedemptions   *int       `gorm:"column:max_redemptions"`
	RedeemedCount    int        `gorm:"column:redeemed_count;not null"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Coupon) TableName() string { return "coupons" }

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// NormalizeCouponCode trims and upper-cases a user supplied code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HasHeadroom reports whether another redemption fits under the limit.
func (c Coupon) HasHeadroom() bool {
	return c.MaxRedemptions == nil || c.RedeemedCount < *c.MaxRedemptions
}

// Expired reports whether the coupon expiry is at or before now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
