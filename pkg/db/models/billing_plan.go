package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingPlanID is the fixed primary key of the singleton plan row.
const BillingPlanID = 1

// StripePricePrefix is the required prefix of a configured Stripe price id.
const StripePricePrefix = "price_"

// BillingPlan is the single subscription plan offered to users.
type BillingPlan struct {
	ID                     uint      `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name                   string    `gorm:"column:name;not null"`
	Currency               string    `gorm:"column:currency;not null"`
	MonthlyPriceCents      int64     `gorm:"column:monthly_price_cents;not null"`
	MonthlyDiscountPercent int       `gorm:"column:monthly_discount_percent;not null"`
	StripePriceID          string    `gorm:"column:stripe_price_id;not null"`
	Active                 bool      `gorm:"column:active;not null"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (BillingPlan) TableName() string { return "billing_plans" }

// HasPriceID reports whether a Stripe price id is set.
func (p BillingPlan) HasPriceID() bool {
	return strings.TrimSpace(p.StripePriceID) != ""
}

// PriceIDValid reports whether the price id carries the Stripe price prefix.
func (p BillingPlan) PriceIDValid() bool {
	return strings.HasPrefix(strings.TrimSpace(p.StripePriceID), StripePricePrefix)
}

// WeeklyEquivalentCents is the monthly price spread over four weeks.
func (p BillingPlan) WeeklyEquivalentCents() int64 {
	return divideRounded(p.MonthlyPriceCents, decimal.NewFromInt(4))
}

// DailyEquivalentCents is the monthly price spread over thirty days.
func (p BillingPlan) DailyEquivalentCents() int64 {
	return divideRounded(p.MonthlyPriceCents, decimal.NewFromInt(30))
}

// UndiscountedMonthlyPriceCents reverses the advertised discount.
func (p BillingPlan) UndiscountedMonthlyPriceCents() int64 {
	if p.MonthlyDiscountPercent <= 0 {
		return p.MonthlyPriceCents
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(p.MonthlyDiscountPercent)).Div(decimal.NewFromInt(100)))
	if factor.Sign() <= 0 {
		return p.MonthlyPriceCents
	}
	return divideRounded(p.MonthlyPriceCents, factor)
}

func divideRounded(cents int64, by decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Div(by).Round(0).IntPart()
}
