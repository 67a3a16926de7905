package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/meetlessons-backend/internal/billing"
	"github.com/angelmondragon/meetlessons-backend/internal/users"
	"github.com/angelmondragon/meetlessons-backend/pkg/db"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/dbtest"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

type stubFetcher struct {
	mu    sync.Mutex
	subs  map[string]*pkgstripe.SubscriptionSnapshot
	err   error
	calls int
}

func (s *stubFetcher) GetSubscription(_ context.Context, id string) (*pkgstripe.SubscriptionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.subs[id], nil
}

type stubCascader struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (s *stubCascader) CascadeRevokeIfUnentitled(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, userID)
	return 1, nil
}

type fixture struct {
	db      *gorm.DB
	repo    billing.Repository
	fetcher *stubFetcher
	devices *stubCascader
	service *Service
	user    *models.User
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	user := &models.User{Email: "learner@example.com"}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	f := &fixture{
		db:      conn,
		repo:    billing.NewRepository(conn),
		fetcher: &stubFetcher{subs: map[string]*pkgstripe.SubscriptionSnapshot{}},
		devices: &stubCascader{},
		user:    user,
		now:     time.Now().UTC().Truncate(time.Second),
	}
	service, err := NewService(ServiceParams{
		BillingRepo:       f.repo,
		Users:             users.NewRepository(conn),
		Stripe:            f.fetcher,
		Devices:           f.devices,
		TransactionRunner: db.Wrap(conn),
		Now:               func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	f.service = service
	return f
}

func event(t *testing.T, id string, eventType string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	return stripe.Event{ID: id, Type: stripe.EventType(eventType), Data: &stripe.EventData{Raw: raw}}
}

func checkoutObject(userID uuid.UUID, coupon string) map[string]any {
	metadata := map[string]string{"user_id": userID.String()}
	if coupon != "" {
		metadata["coupon_code"] = coupon
	}
	return map[string]any{
		"id":                  "cs_test",
		"object":              "checkout.session",
		"mode":                "subscription",
		"client_reference_id": userID.String(),
		"customer":            "cus_123",
		"subscription":        "sub_123",
		"metadata":            metadata,
	}
}

func subscriptionObject(status string) map[string]any {
	return map[string]any{
		"id":                   "sub_123",
		"object":               "subscription",
		"customer":             "cus_123",
		"status":               status,
		"cancel_at_period_end": status == "active",
		"created":              1700000000,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":                 "si_1",
				"current_period_end": 1800000000,
				"price":              map[string]any{"id": "price_123"},
			}},
		},
	}
}

func (f *fixture) subscription(t *testing.T) *models.Subscription {
	t.Helper()
	sub, err := f.repo.FindSubscriptionByUser(context.Background(), f.user.ID)
	if err != nil {
		t.Fatalf("load subscription: %v", err)
	}
	return sub
}

func (f *fixture) seedCoupon(t *testing.T, max int, redeemed int) {
	t.Helper()
	coupon := &models.Coupon{Code: "SPRING", StripeDiscountID: "coupon_spring", Active: true, MaxRedemptions: &max}
	if err := f.repo.SaveCoupon(context.Background(), coupon); err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
	if err := f.db.Model(&models.Coupon{}).Where("code = ?", "SPRING").UpdateColumn("redeemed_count", redeemed).Error; err != nil {
		t.Fatalf("set redeemed: %v", err)
	}
}

func (f *fixture) redeemed(t *testing.T) int {
	t.Helper()
	coupon, err := f.repo.FindCouponByCode(context.Background(), "SPRING")
	if err != nil || coupon == nil {
		t.Fatalf("load coupon: %v", err)
	}
	return coupon.RedeemedCount
}

func TestCheckoutCompletedLinksCustomerAndSubscription(t *testing.T) {
	f := newFixture(t)
	f.fetcher.subs["sub_123"] = &pkgstripe.SubscriptionSnapshot{ID: "sub_123", CustomerID: "cus_123", Status: "active", PriceID: "price_123"}
	ctx := context.Background()

	if err := f.service.HandleEvent(ctx, event(t, "evt_1", "checkout.session.completed", checkoutObject(f.user.ID, ""))); err != nil {
		t.Fatalf("handle checkout: %v", err)
	}

	customer, err := f.repo.FindCustomerByUser(ctx, f.user.ID)
	if err != nil || customer == nil || customer.StripeCustomerID != "cus_123" {
		t.Fatalf("expected linked customer, got %+v err=%v", customer, err)
	}
	sub := f.subscription(t)
	if sub == nil || sub.Status != enums.SubscriptionStatusActive || sub.PriceID != "price_123" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
}

func TestCheckoutIgnoresNonSubscriptionMode(t *testing.T) {
	f := newFixture(t)
	obj := checkoutObject(f.user.ID, "")
	obj["mode"] = "payment"

	if err := f.service.HandleEvent(context.Background(), event(t, "evt_1", "checkout.session.completed", obj)); err != nil {
		t.Fatalf("handle checkout: %v", err)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("expected no stripe fetch, got %d", f.fetcher.calls)
	}
	if sub := f.subscription(t); sub != nil {
		t.Fatalf("expected no subscription, got %+v", sub)
	}
}

func TestCheckoutUnknownUserIsDropped(t *testing.T) {
	f := newFixture(t)
	if err := f.service.HandleEvent(context.Background(), event(t, "evt_1", "checkout.session.completed", checkoutObject(uuid.New(), ""))); err != nil {
		t.Fatalf("expected unknown user to be dropped, got %v", err)
	}
	if f.fetcher.calls != 0 {
		t.Fatal("expected no stripe fetch for unknown user")
	}
}

func TestDuplicateEventIsProcessedOnce(t *testing.T) {
	f := newFixture(t)
	f.fetcher.subs["sub_123"] = &pkgstripe.SubscriptionSnapshot{ID: "sub_123", Status: "active"}
	f.seedCoupon(t, 5, 0)
	evt := event(t, "evt_dup", "checkout.session.completed", checkoutObject(f.user.ID, "spring"))

	for i := 0; i < 2; i++ {
		if err := f.service.HandleEvent(context.Background(), evt); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}
	if f.fetcher.calls != 1 {
		t.Fatalf("expected one stripe fetch, got %d", f.fetcher.calls)
	}
	if got := f.redeemed(t); got != 1 {
		t.Fatalf("expected coupon redeemed once, got %d", got)
	}
}

func TestCouponNotRedeemableIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.fetcher.subs["sub_123"] = &pkgstripe.SubscriptionSnapshot{ID: "sub_123", Status: "active"}
	f.seedCoupon(t, 1, 1)

	if err := f.service.HandleEvent(context.Background(), event(t, "evt_1", "checkout.session.completed", checkoutObject(f.user.ID, "SPRING"))); err != nil {
		t.Fatalf("handle checkout: %v", err)
	}
	if got := f.redeemed(t); got != 1 {
		t.Fatalf("expected redeemed count unchanged, got %d", got)
	}
}

func TestConcurrentCheckoutsShareLastCouponSlot(t *testing.T) {
	f := newFixture(t)
	f.fetcher.subs["sub_123"] = &pkgstripe.SubscriptionSnapshot{ID: "sub_123", Status: "active"}
	f.seedCoupon(t, 3, 2)

	events := []stripe.Event{
		event(t, "evt_a", "checkout.session.completed", checkoutObject(f.user.ID, "SPRING")),
		event(t, "evt_b", "checkout.session.completed", checkoutObject(f.user.ID, "SPRING")),
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(events))
	for _, evt := range events {
		wg.Add(1)
		go func(evt stripe.Event) {
			defer wg.Done()
			errs <- f.service.HandleEvent(context.Background(), evt)
		}(evt)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("handle checkout: %v", err)
		}
	}
	if got := f.redeemed(t); got != 3 {
		t.Fatalf("expected redeemed count capped at 3, got %d", got)
	}
}

func TestSubscriptionDeletedCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.UpsertCustomer(ctx, f.user.ID, "cus_123"); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	if err := f.service.HandleEvent(ctx, event(t, "evt_1", "customer.subscription.created", subscriptionObject("active"))); err != nil {
		t.Fatalf("handle created: %v", err)
	}
	sub := f.subscription(t)
	if !sub.GrantsAccess() || !sub.CancelAtPeriodEnd || sub.CurrentPeriodEnd == nil {
		t.Fatalf("unexpected subscription after create: %+v", sub)
	}
	if len(f.devices.users) != 0 {
		t.Fatal("expected no cascade while entitled")
	}

	if err := f.service.HandleEvent(ctx, event(t, "evt_2", "customer.subscription.deleted", subscriptionObject("canceled"))); err != nil {
		t.Fatalf("handle deleted: %v", err)
	}
	sub = f.subscription(t)
	if sub.Status != enums.SubscriptionStatusCanceled || sub.CancelAtPeriodEnd {
		t.Fatalf("unexpected subscription after delete: %+v", sub)
	}
	if len(f.devices.users) != 1 || f.devices.users[0] != f.user.ID {
		t.Fatalf("expected cascade for user, got %v", f.devices.users)
	}
}

func TestSubscriptionEventForUnknownCustomerIsDropped(t *testing.T) {
	f := newFixture(t)
	if err := f.service.HandleEvent(context.Background(), event(t, "evt_1", "customer.subscription.updated", subscriptionObject("active"))); err != nil {
		t.Fatalf("expected drop, got %v", err)
	}
	if sub := f.subscription(t); sub != nil {
		t.Fatalf("expected no subscription, got %+v", sub)
	}
}

func TestInvoiceRefetchesSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.UpsertCustomer(ctx, f.user.ID, "cus_123"); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	f.fetcher.subs["sub_123"] = &pkgstripe.SubscriptionSnapshot{ID: "sub_123", Status: "past_due"}
	invoice := map[string]any{
		"id":       "in_1",
		"customer": map[string]any{"id": "cus_123", "object": "customer"},
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": "sub_123"},
		},
	}

	if err := f.service.HandleEvent(ctx, event(t, "evt_1", "invoice.payment_failed", invoice)); err != nil {
		t.Fatalf("handle invoice: %v", err)
	}
	if sub := f.subscription(t); sub == nil || sub.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due subscription, got %+v", sub)
	}
}

func TestStripeFailureLeavesEventRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.UpsertCustomer(ctx, f.user.ID, "cus_123"); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	f.fetcher.err = errors.New("stripe down")
	evt := event(t, "evt_retry", "invoice.paid", map[string]any{"customer": "cus_123", "subscription": "sub_123"})

	err := f.service.HandleEvent(ctx, evt)
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if recorded, err := f.repo.EventRecorded(ctx, "evt_retry"); err != nil || recorded {
		t.Fatalf("expected failed event to stay out of the ledger, recorded=%v err=%v", recorded, err)
	}

	f.fetcher.err = nil
	f.fetcher.subs["sub_123"] = &pkgstripe.SubscriptionSnapshot{ID: "sub_123", Status: "active"}
	if err := f.service.HandleEvent(ctx, evt); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sub := f.subscription(t); sub == nil || !sub.GrantsAccess() {
		t.Fatalf("expected retry to sync subscription, got %+v", sub)
	}
}

// flakyUpsertRepo fails the first n subscription writes made inside a transaction.
type flakyUpsertRepo struct {
	billing.Repository
	failures *int
}

func (r flakyUpsertRepo) WithTx(tx *gorm.DB) billing.Repository {
	return flakyUpsertRepo{Repository: r.Repository.WithTx(tx), failures: r.failures}
}

func (r flakyUpsertRepo) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if *r.failures > 0 {
		*r.failures--
		return errors.New("disk full")
	}
	return r.Repository.UpsertSubscription(ctx, sub)
}

func TestFailedWriteRollsBackLedgerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.UpsertCustomer(ctx, f.user.ID, "cus_123"); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	failures := 1
	service, err := NewService(ServiceParams{
		BillingRepo:       flakyUpsertRepo{Repository: f.repo, failures: &failures},
		Users:             users.NewRepository(f.db),
		Stripe:            f.fetcher,
		Devices:           f.devices,
		TransactionRunner: db.Wrap(f.db),
		Now:               func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	evt := event(t, "evt_write", "customer.subscription.updated", subscriptionObject("active"))

	if err := service.HandleEvent(ctx, evt); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if recorded, err := f.repo.EventRecorded(ctx, "evt_write"); err != nil || recorded {
		t.Fatalf("expected ledger row rolled back, recorded=%v err=%v", recorded, err)
	}
	if sub := f.subscription(t); sub != nil {
		t.Fatalf("expected no subscription after failed write, got %+v", sub)
	}

	if err := service.HandleEvent(ctx, evt); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sub := f.subscription(t); sub == nil || !sub.GrantsAccess() {
		t.Fatalf("expected retry to sync subscription, got %+v", sub)
	}
	if recorded, err := f.repo.EventRecorded(ctx, "evt_write"); err != nil || !recorded {
		t.Fatalf("expected ledger row after retry, recorded=%v err=%v", recorded, err)
	}
}

func TestUnhandledEventIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt := event(t, "evt_other", "customer.created", map[string]any{"id": "cus_1"})

	if err := f.service.HandleEvent(ctx, evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	created, err := f.repo.MarkEventProcessed(ctx, "evt_other", "customer.created")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if created {
		t.Fatal("expected ignored event to stay in the ledger")
	}
}

func TestParseEventInvoiceTopLevelSubscription(t *testing.T) {
	parsed, err := ParseEvent(event(t, "evt", "invoice.paid", map[string]any{"customer": "cus_9", "subscription": "sub_9"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	settled, ok := parsed.(InvoiceSettled)
	if !ok || settled.CustomerID != "cus_9" || settled.SubscriptionID != "sub_9" {
		t.Fatalf("unexpected variant %#v", parsed)
	}

	parsed, err = ParseEvent(event(t, "evt", "invoice.paid", map[string]any{"customer": "cus_9"}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ignored, ok := parsed.(Ignored); !ok || ignored.Reason != ignoreNoSubscription {
		t.Fatalf("expected ignored variant, got %#v", parsed)
	}
}

func TestParseEventCheckoutFallsBackToMetadata(t *testing.T) {
	userID := uuid.New()
	obj := checkoutObject(userID, "spring")
	delete(obj, "client_reference_id")

	parsed, err := ParseEvent(event(t, "evt", "checkout.session.completed", obj))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checkout, ok := parsed.(CheckoutCompleted)
	if !ok || checkout.UserID != userID || checkout.CouponCode != "spring" || checkout.CustomerID != "cus_123" {
		t.Fatalf("unexpected variant %#v", parsed)
	}
}
