package billing

import (
	"testing"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
)

func TestNewPlanViewDerivesPrices(t *testing.T) {
	view := NewPlanView(&models.BillingPlan{
		Name:                   "Pro",
		Currency:               "USD",
		MonthlyPriceCents:      1200,
		MonthlyDiscountPercent: 20,
		Active:                 true,
	})

	if view.WeeklyPriceCents != 300 || view.DailyPriceCents != 40 {
		t.Fatalf("unexpected derived prices weekly=%d daily=%d", view.WeeklyPriceCents, view.DailyPriceCents)
	}
	if view.UndiscountedCents != 1500 {
		t.Fatalf("expected undiscounted 1500, got %d", view.UndiscountedCents)
	}
	if view.MonthlyPrice != "$12.00" || view.UndiscountedPrice != "$15.00" {
		t.Fatalf("unexpected formatting %q %q", view.MonthlyPrice, view.UndiscountedPrice)
	}
	if view.Currency != "usd" {
		t.Fatalf("expected lower-cased currency, got %q", view.Currency)
	}
}

func TestNewPlanViewFallsBackForZeroPrice(t *testing.T) {
	view := NewPlanView(&models.BillingPlan{Name: "Pro", Currency: "usd"})
	if view.MonthlyPriceCents != 1500 || view.MonthlyPrice != "$15.00" {
		t.Fatalf("expected display fallback, got %d %q", view.MonthlyPriceCents, view.MonthlyPrice)
	}

	nilView := NewPlanView(nil)
	if nilView.MonthlyPriceCents != 1500 || nilView.Name != "Pro" {
		t.Fatalf("expected default view, got %+v", nilView)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		cents    int64
		currency string
		want     string
	}{
		{1500, "usd", "$15.00"},
		{5, "", "$0.05"},
		{1999, "eur", "19.99 EUR"},
	}
	for _, tc := range cases {
		if got := FormatMoney(tc.cents, tc.currency); got != tc.want {
			t.Fatalf("FormatMoney(%d, %q) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}

func TestSettingsEnabled(t *testing.T) {
	plan := &models.BillingPlan{Active: true, StripePriceID: "price_1"}
	if !(Settings{Plan: plan, StripeConfigured: true}).Enabled() {
		t.Fatal("expected billing enabled")
	}
	if (Settings{Plan: plan}).Enabled() {
		t.Fatal("expected disabled without stripe key")
	}
	if (Settings{StripeConfigured: true}).Enabled() {
		t.Fatal("expected disabled without plan")
	}
	inactive := *plan
	inactive.Active = false
	if (Settings{Plan: &inactive, StripeConfigured: true}).Enabled() {
		t.Fatal("expected disabled for inactive plan")
	}
	noPrice := *plan
	noPrice.StripePriceID = " "
	if (Settings{Plan: &noPrice, StripeConfigured: true}).Enabled() {
		t.Fatal("expected disabled for empty price id")
	}
}
