package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meetlessons-backend/internal/billing"
	"github.com/angelmondragon/meetlessons-backend/internal/entitlements"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Gateway is the Stripe surface checkout needs.
type Gateway interface {
	CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error)
	CreateCheckoutSession(ctx context.Context, req pkgstripe.CheckoutRequest) (*pkgstripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	LookupDiscount(ctx context.Context, ref string) pkgstripe.DiscountLookup
}

// URLs are the absolute redirect targets handed to Stripe.
type URLs struct {
	Success      string
	Cancel       string
	PortalReturn string
}

// Service starts Stripe checkout and billing portal sessions.
type Service interface {
	Checkout(ctx context.Context, userID uuid.UUID, couponCode string) (*pkgstripe.CheckoutSession, error)
	Portal(ctx context.Context, userID uuid.UUID) (string, error)
}

type ServiceParams struct {
	Tx           txRunner
	BillingRepo  billing.Repository
	Users        userLoader
	Settings     entitlements.SettingsSource
	Entitlements entitlements.Checker
	Gateway      Gateway
	URLs         URLs
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	tx       txRunner
	repo     billing.Repository
	users    userLoader
	settings entitlements.SettingsSource
	checker  entitlements.Checker
	gateway  Gateway
	urls     URLs
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user repository required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("billing settings required")
	}
	if params.Entitlements == nil {
		return nil, fmt.Errorf("entitlement checker required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("stripe gateway required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:       params.Tx,
		repo:     params.BillingRepo,
		users:    params.Users,
		settings: params.Settings,
		checker:  params.Entitlements,
		gateway:  params.Gateway,
		urls:     params.URLs,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Checkout validates the optional coupon and returns a hosted checkout
// session. Redemptions are only counted once Stripe reports completion.
func (s *service) Checkout(ctx context.Context, userID uuid.UUID, couponCode string) (*pkgstripe.CheckoutSession, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing settings")
	}
	if !settings.Enabled() {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "billing is not configured")
	}
	if !settings.Plan.PriceIDValid() {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "Billing plan misconfigured: stripe_monthly_price_id must be a Stripe Price ID (price_...).")
	}
	if s.checker.IsEntitled(ctx, userID) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Already subscribed")
	}

	code := models.NormalizeCouponCode(couponCode)
	var discount *pkgstripe.Discount
	if code != "" {
		discount, err = s.resolveCoupon(ctx, code)
		if err != nil {
			return nil, err
		}
	}

	customerID, err := s.customerFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	req := pkgstripe.CheckoutRequest{
		CustomerID: customerID,
		PriceID:    strings.TrimSpace(settings.PriceID()),
		UserID:     userID,
		Discount:   discount,
		SuccessURL: s.urls.Success,
		CancelURL:  s.urls.Cancel,
	}
	if discount != nil {
		req.CouponCode = code
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	return session, nil
}

// resolveCoupon checks the coupon under its row lock, then maps its Stripe
// reference to a discount outside the transaction.
func (s *service) resolveCoupon(ctx context.Context, code string) (*pkgstripe.Discount, error) {
	var ref string
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		coupon, err := s.repo.WithTx(tx).LockCouponByCode(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
		}
		if err := billing.CheckRedeemable(coupon, s.now()); err != nil {
			return err
		}
		ref = coupon.StripeDiscountID
		return nil
	})
	if err != nil {
		return nil, err
	}

	lookup := billing.ResolveDiscount(ctx, s.gateway, ref)
	switch lookup.Outcome {
	case pkgstripe.DiscountFound:
		discount := lookup.Discount
		return &discount, nil
	case pkgstripe.DiscountUnavailable:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lookup.Err, "verify coupon discount")
	}
	s.logg.Warn(s.logg.WithField(ctx, "coupon_code", code), "coupon references an unknown stripe discount")
	return nil, pkgerrors.New(pkgerrors.CodeValidation, billing.ReasonDiscountInvalid)
}

// Portal returns a billing portal URL, creating the Stripe customer if needed.
func (s *service) Portal(ctx context.Context, userID uuid.UUID) (string, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing settings")
	}
	if !settings.StripeConfigured {
		return "", pkgerrors.New(pkgerrors.CodeConfiguration, "billing is not configured")
	}
	customerID, err := s.customerFor(ctx, userID)
	if err != nil {
		return "", err
	}
	url, err := s.gateway.CreatePortalSession(ctx, customerID, s.urls.PortalReturn)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create portal session")
	}
	return url, nil
}

func (s *service) customerFor(ctx context.Context, userID uuid.UUID) (string, error) {
	existing, err := s.repo.FindCustomerByUser(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stripe customer")
	}
	if existing != nil && existing.StripeCustomerID != "" {
		return existing.StripeCustomerID, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}
	if err := s.repo.UpsertCustomer(ctx, userID, customerID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store stripe customer")
	}
	return customerID, nil
}
