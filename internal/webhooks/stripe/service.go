package stripewebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/meetlessons-backend/internal/billing"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	"github.com/angelmondragon/meetlessons-backend/pkg/metrics"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

// Webhook outcomes, used as metric labels.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SubscriptionFetcher loads a subscription from Stripe by id.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*pkgstripe.SubscriptionSnapshot, error)
}

// UserLookup confirms a checkout's user reference exists locally.
type UserLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// DeviceCascader revokes devices of users who lost access.
type DeviceCascader interface {
	CascadeRevokeIfUnentitled(ctx context.Context, userID uuid.UUID) (int, error)
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Users             UserLookup
	Stripe            SubscriptionFetcher
	Devices           DeviceCascader
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.BillingMetrics
	Now               func() time.Time
}

// Service applies verified Stripe events to the local subscription cache
// exactly once per event id.
type Service struct {
	billingRepo billing.Repository
	users       UserLookup
	stripe      SubscriptionFetcher
	devices     DeviceCascader
	txRunner    txRunner
	logg        *logger.Logger
	metrics     *metrics.BillingMetrics
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user lookup required")
	}
	if params.Stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		billingRepo: params.BillingRepo,
		users:       params.Users,
		stripe:      params.Stripe,
		devices:     params.Devices,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

// HandleEvent applies an event at most once. The ledger row is inserted in
// the same transaction as the writes it guards, so a failed event leaves no
// trace and Stripe's retry is processed again.
func (s *Service) HandleEvent(ctx context.Context, event stripe.Event) error {
	if event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	eventType := string(event.Type)
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": eventType})

	parsed, err := ParseEvent(event)
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, OutcomeFailed)
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}

	recorded, err := s.billingRepo.EventRecorded(ctx, event.ID)
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, OutcomeFailed)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stripe event")
	}
	if recorded {
		s.metrics.IncWebhookEvent(eventType, OutcomeDuplicate)
		return nil
	}

	work, err := s.prepare(ctx, parsed)
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, OutcomeFailed)
		return err
	}

	duplicate := false
	var before, after *models.Subscription
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		created, err := repo.MarkEventProcessed(ctx, event.ID, eventType)
		if err != nil {
			return err
		}
		if !created {
			duplicate = true
			return nil
		}
		before, after, err = s.apply(ctx, repo, work)
		return err
	})
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, OutcomeFailed)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply stripe event")
	}
	if duplicate {
		s.metrics.IncWebhookEvent(eventType, OutcomeDuplicate)
		return nil
	}

	s.cascadeIfLost(ctx, work.userID, before, after)
	s.metrics.IncWebhookEvent(eventType, work.outcome)
	return nil
}

// eventWork is everything an event needs written, gathered before the
// transaction opens. Stripe is never called with a transaction held.
type eventWork struct {
	outcome    string
	userID     uuid.UUID
	customerID string
	snap       *pkgstripe.SubscriptionSnapshot
	couponCode string
}

var ignoredWork = &eventWork{outcome: OutcomeIgnored}

func (s *Service) prepare(ctx context.Context, evt Event) (*eventWork, error) {
	switch e := evt.(type) {
	case CheckoutCompleted:
		return s.prepareCheckout(ctx, e)
	case SubscriptionChanged:
		userID, ok, err := s.userForCustomer(ctx, e.CustomerID)
		if err != nil || !ok || e.Subscription == nil {
			return ignoredWork, err
		}
		return &eventWork{outcome: OutcomeProcessed, userID: userID, snap: e.Subscription}, nil
	case InvoiceSettled:
		userID, ok, err := s.userForCustomer(ctx, e.CustomerID)
		if err != nil || !ok {
			return ignoredWork, err
		}
		snap, err := s.stripe.GetSubscription(ctx, e.SubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
		if snap == nil {
			return ignoredWork, nil
		}
		return &eventWork{outcome: OutcomeProcessed, userID: userID, snap: snap}, nil
	case Ignored:
		s.logg.Debug(s.logg.WithField(ctx, "reason", e.Reason), "stripe event ignored")
	}
	return ignoredWork, nil
}

func (s *Service) prepareCheckout(ctx context.Context, evt CheckoutCompleted) (*eventWork, error) {
	exists, err := s.users.Exists(ctx, evt.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if !exists {
		s.logg.Warn(ctx, "checkout references unknown user")
		return ignoredWork, nil
	}

	work := &eventWork{
		outcome:    OutcomeProcessed,
		userID:     evt.UserID,
		customerID: evt.CustomerID,
		couponCode: models.NormalizeCouponCode(evt.CouponCode),
	}
	if evt.SubscriptionID != "" {
		work.snap, err = s.stripe.GetSubscription(ctx, evt.SubscriptionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
		}
	}
	return work, nil
}

// apply runs inside the ledger transaction and returns the subscription
// before and after the write.
func (s *Service) apply(ctx context.Context, repo billing.Repository, work *eventWork) (*models.Subscription, *models.Subscription, error) {
	if work.outcome != OutcomeProcessed {
		return nil, nil, nil
	}
	if work.customerID != "" {
		if err := repo.UpsertCustomer(ctx, work.userID, work.customerID); err != nil {
			return nil, nil, err
		}
	}
	var before, after *models.Subscription
	if work.snap != nil {
		var err error
		before, after, err = s.applySnapshot(ctx, repo, work.userID, work.snap)
		if err != nil {
			return nil, nil, err
		}
	}
	if work.couponCode != "" {
		if err := s.redeemCoupon(ctx, repo, work.couponCode); err != nil {
			return nil, nil, err
		}
	}
	return before, after, nil
}

// redeemCoupon counts a redemption under the coupon row lock. A coupon that
// is no longer redeemable, or whose last slot was taken concurrently, is
// skipped.
func (s *Service) redeemCoupon(ctx context.Context, repo billing.Repository, code string) error {
	coupon, err := repo.LockCouponByCode(ctx, code)
	if err != nil {
		return err
	}
	if coupon == nil || !coupon.Active || coupon.Expired(s.now()) || !coupon.HasHeadroom() {
		s.logg.Warn(s.logg.WithField(ctx, "coupon_code", code), "coupon not redeemable at checkout completion")
		return nil
	}
	incremented, err := repo.IncrementCouponRedemptions(ctx, coupon.ID)
	if err != nil {
		return err
	}
	if !incremented {
		s.logg.Warn(s.logg.WithField(ctx, "coupon_code", code), "coupon redemption limit reached")
	}
	return nil
}

func (s *Service) userForCustomer(ctx context.Context, customerID string) (uuid.UUID, bool, error) {
	customer, err := s.billingRepo.FindCustomerByStripeID(ctx, customerID)
	if err != nil {
		return uuid.Nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stripe customer")
	}
	if customer == nil {
		s.logg.Warn(s.logg.WithField(ctx, "stripe_customer_id", customerID), "stripe event for unknown customer")
		return uuid.Nil, false, nil
	}
	return customer.UserID, true, nil
}

func (s *Service) applySnapshot(ctx context.Context, repo billing.Repository, userID uuid.UUID, snap *pkgstripe.SubscriptionSnapshot) (*models.Subscription, *models.Subscription, error) {
	current, err := repo.FindSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	next := billing.MergeSnapshot(current, userID, snap, s.now())
	if next.StripeSubscriptionID == "" {
		return current, current, nil
	}
	if err := repo.UpsertSubscription(ctx, next); err != nil {
		return nil, nil, err
	}
	return current, next, nil
}

// cascadeIfLost runs after commit; a failure is logged and the lazy checks
// on the device paths revoke later.
func (s *Service) cascadeIfLost(ctx context.Context, userID uuid.UUID, before, after *models.Subscription) {
	if s.devices == nil || !billing.LostAccess(before, after) {
		return
	}
	if _, err := s.devices.CascadeRevokeIfUnentitled(ctx, userID); err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, userID.String()), "failed to revoke devices after subscription change", err)
	}
}
