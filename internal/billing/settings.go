package billing

import (
	"context"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
)

// Settings is the per-request view of the plan plus whether Stripe credentials exist.
type Settings struct {
	Plan             *models.BillingPlan
	StripeConfigured bool
}

// Enabled reports whether billing gates anything. A missing plan row,
// an inactive plan or an empty price id all leave the paid feature open.
func (s Settings) Enabled() bool {
	return s.StripeConfigured && s.Plan != nil && s.Plan.Active && s.Plan.HasPriceID()
}

// PriceID returns the configured Stripe price id, or "" when no plan exists.
func (s Settings) PriceID() string {
	if s.Plan == nil {
		return ""
	}
	return s.Plan.StripePriceID
}

// SettingsLoader reads Settings from the store on every call.
type SettingsLoader struct {
	repo             Repository
	stripeConfigured bool
}

func NewSettingsLoader(repo Repository, stripeConfigured bool) *SettingsLoader {
	return &SettingsLoader{repo: repo, stripeConfigured: stripeConfigured}
}

// Load reads the plan fresh; there is no cross-request cache.
func (l *SettingsLoader) Load(ctx context.Context) (Settings, error) {
	plan, err := l.repo.FindPlan(ctx)
	if err != nil {
		return Settings{}, err
	}
	return Settings{Plan: plan, StripeConfigured: l.stripeConfigured}, nil
}
