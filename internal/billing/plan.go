package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
)

const (
	// displayFallbackCents is shown when no monthly price has been configured.
	displayFallbackCents = 1500
	defaultCurrency      = "usd"
)

// PlanView is the pricing block rendered on the billing page.
type PlanView struct {
	Name                   string `json:"name"`
	Currency               string `json:"currency"`
	MonthlyPriceCents      int64  `json:"monthly_price_cents"`
	MonthlyDiscountPercent int    `json:"monthly_discount_percent"`
	WeeklyPriceCents       int64  `json:"weekly_price_cents"`
	DailyPriceCents        int64  `json:"daily_price_cents"`
	UndiscountedCents      int64  `json:"undiscounted_monthly_price_cents"`
	MonthlyPrice           string `json:"monthly_price"`
	WeeklyPrice            string `json:"weekly_price"`
	DailyPrice             string `json:"daily_price"`
	UndiscountedPrice      string `json:"undiscounted_monthly_price"`
	Active                 bool   `json:"active"`
}

// NewPlanView derives the display prices. A nil plan renders the defaults.
func NewPlanView(plan *models.BillingPlan) PlanView {
	p := models.BillingPlan{Name: "Pro", Currency: defaultCurrency}
	if plan != nil {
		p = *plan
	}
	if p.MonthlyPriceCents <= 0 {
		p.MonthlyPriceCents = displayFallbackCents
	}
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	weekly := p.WeeklyEquivalentCents()
	daily := p.DailyEquivalentCents()
	undiscounted := p.UndiscountedMonthlyPriceCents()

	return PlanView{
		Name:                   p.Name,
		Currency:               currency,
		MonthlyPriceCents:      p.MonthlyPriceCents,
		MonthlyDiscountPercent: p.MonthlyDiscountPercent,
		WeeklyPriceCents:       weekly,
		DailyPriceCents:        daily,
		UndiscountedCents:      undiscounted,
		MonthlyPrice:           FormatMoney(p.MonthlyPriceCents, currency),
		WeeklyPrice:            FormatMoney(weekly, currency),
		DailyPrice:             FormatMoney(daily, currency),
		UndiscountedPrice:      FormatMoney(undiscounted, currency),
		Active:                 p.Active,
	}
}

// FormatMoney renders cents as "$12.34" for usd and "12.34 EUR" otherwise.
func FormatMoney(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" || currency == defaultCurrency {
		return "$" + amount
	}
	return fmt.Sprintf("%s %s", amount, strings.ToUpper(currency))
}
