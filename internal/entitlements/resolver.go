package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/internal/billing"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	"github.com/angelmondragon/meetlessons-backend/pkg/metrics"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

const defaultRefreshWindow = time.Minute

// Decision sources, also used as metric labels.
const (
	SourceBillingDisabled = "billing_disabled"
	SourceCacheActive     = "cache_active"
	SourceNoCustomer      = "no_customer"
	SourceCacheFresh      = "cache_fresh"
	SourceStripe          = "stripe"
	SourceStripeFallback  = "stripe_fallback"
	SourceStoreError      = "store_error"
)

// SettingsSource loads the billing settings for a request.
type SettingsSource interface {
	Load(ctx context.Context) (billing.Settings, error)
}

// SubscriptionLister asks Stripe for the customer's newest subscription.
type SubscriptionLister interface {
	LatestSubscription(ctx context.Context, customerID string) (*pkgstripe.SubscriptionSnapshot, error)
}

// ErrUndecided means the store could not be read, so the user's access is
// unknown rather than lost.
var ErrUndecided = errors.New("entitlement could not be decided")

// Checker is the collaborator surface other packages depend on.
type Checker interface {
	IsEntitled(ctx context.Context, userID uuid.UUID) bool
}

// Decider is for callers that take destructive action on a "no", such as
// revoking devices. They must not act on ErrUndecided.
type Decider interface {
	Resolve(ctx context.Context, userID uuid.UUID) (bool, error)
}

type ResolverParams struct {
	Settings      SettingsSource
	Repo          billing.Repository
	Stripe        SubscriptionLister
	RefreshWindow time.Duration
	Logger        *logger.Logger
	Metrics       *metrics.BillingMetrics
	Now           func() time.Time
}

// Resolver answers whether a user may use the paid feature, preferring the
// local cache and refreshing from Stripe at most once per refresh window.
type Resolver struct {
	settings      SettingsSource
	repo          billing.Repository
	stripe        SubscriptionLister
	refreshWindow time.Duration
	logg          *logger.Logger
	metrics       *metrics.BillingMetrics
	now           func() time.Time
}

func NewResolver(params ResolverParams) *Resolver {
	window := params.RefreshWindow
	if window <= 0 {
		window = defaultRefreshWindow
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		settings:      params.Settings,
		repo:          params.Repo,
		stripe:        params.Stripe,
		refreshWindow: window,
		logg:          params.Logger,
		metrics:       params.Metrics,
		now:           now,
	}
}

// IsEntitled never returns an error: store failures resolve to false and
// Stripe failures fall back to the cached row.
func (r *Resolver) IsEntitled(ctx context.Context, userID uuid.UUID) bool {
	entitled, _ := r.Resolve(ctx, userID)
	return entitled
}

// Resolve is IsEntitled with store failures reported as ErrUndecided
// alongside the fail-closed false.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (bool, error) {
	entitled, source := r.decide(ctx, userID)
	r.metrics.IncEntitlementDecision(source, entitled)
	if source == SourceStoreError {
		return false, ErrUndecided
	}
	return entitled, nil
}

func (r *Resolver) decide(ctx context.Context, userID uuid.UUID) (bool, string) {
	ctx = r.logg.WithUserID(ctx, userID.String())

	settings, err := r.settings.Load(ctx)
	if err != nil {
		r.logg.Error(ctx, "entitlement: load billing settings", err)
		return false, SourceStoreError
	}
	if !settings.Enabled() {
		return true, SourceBillingDisabled
	}

	cached, err := r.repo.FindSubscriptionByUser(ctx, userID)
	if err != nil {
		r.logg.Error(ctx, "entitlement: load cached subscription", err)
		return false, SourceStoreError
	}
	if cached.GrantsAccess() {
		return true, SourceCacheActive
	}

	customer, err := r.repo.FindCustomerByUser(ctx, userID)
	if err != nil {
		r.logg.Error(ctx, "entitlement: load stripe customer", err)
		return false, SourceStoreError
	}
	if customer == nil || customer.StripeCustomerID == "" {
		return false, SourceNoCustomer
	}

	now := r.now()
	if cached != nil && now.Sub(cached.UpdatedAt) < r.refreshWindow {
		return false, SourceCacheFresh
	}

	if r.stripe == nil {
		return cached.GrantsAccess(), SourceStripeFallback
	}
	latest, err := r.stripe.LatestSubscription(ctx, customer.StripeCustomerID)
	if err != nil {
		r.logg.Warn(ctx, "entitlement: stripe refresh failed, using cached state: "+err.Error())
		return cached.GrantsAccess(), SourceStripeFallback
	}
	if latest == nil {
		return cached.GrantsAccess(), SourceStripe
	}

	refreshed := billing.MergeSnapshot(cached, userID, latest, now)
	if err := r.repo.UpsertSubscription(ctx, refreshed); err != nil {
		r.logg.Error(ctx, "entitlement: persist refreshed subscription", err)
	}
	return refreshed.GrantsAccess(), SourceStripe
}
