package stripe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/coupon"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/promotioncode"
	"github.com/stripe/stripe-go/v84/subscription"

	"github.com/angelmondragon/meetlessons-backend/pkg/metrics"
)

const subscriptionListLimit = 5

// CheckoutRequest describes a subscription checkout session.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	UserID     uuid.UUID
	CouponCode string
	Discount   *Discount
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the hosted checkout page Stripe created.
type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway performs the Stripe calls billing needs, each bounded by the client timeout.
type Gateway struct {
	configured bool
	timeout    time.Duration
	metrics    *metrics.BillingMetrics
}

// ErrNotConfigured is returned by every call of a gateway built without a client.
var ErrNotConfigured = errors.New("stripe is not configured")

// NewGateway binds the gateway to an initialized client. A nil client yields a
// gateway whose calls fail with ErrNotConfigured.
func NewGateway(client *Client, m *metrics.BillingMetrics) *Gateway {
	return &Gateway{configured: client != nil, timeout: client.CallTimeout(), metrics: m}
}

// CreateCustomer creates a Stripe customer tagged with the local user id.
func (g *Gateway) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	var id string
	err := g.call(ctx, "customers.create", func(ctx context.Context) error {
		params := &stripe.CustomerParams{}
		if email != "" {
			params.Email = stripe.String(email)
		}
		params.AddMetadata("user_id", userID.String())
		params.Context = ctx
		cust, err := customer.New(params)
		if err != nil {
			return err
		}
		id = cust.ID
		return nil
	})
	return id, err
}

// LatestSubscription lists the customer's subscriptions in any status and
// returns the most recently created one, or nil when there are none.
func (g *Gateway) LatestSubscription(ctx context.Context, customerID string) (*SubscriptionSnapshot, error) {
	var snapshots []*SubscriptionSnapshot
	err := g.call(ctx, "subscriptions.list", func(ctx context.Context) error {
		params := &stripe.SubscriptionListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String("all"),
		}
		params.Limit = stripe.Int64(subscriptionListLimit)
		params.Single = true
		params.Context = ctx
		iter := subscription.List(params)
		for iter.Next() {
			snapshots = append(snapshots, SnapshotFromSubscription(iter.Subscription()))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return MostRecent(snapshots), nil
}

// GetSubscription fetches one subscription by id.
func (g *Gateway) GetSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	var snap *SubscriptionSnapshot
	err := g.call(ctx, "subscriptions.get", func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		sub, err := subscription.Get(id, params)
		if err != nil {
			return err
		}
		snap = SnapshotFromSubscription(sub)
		return nil
	})
	return snap, err
}

// CreateCheckoutSession starts a hosted subscription checkout.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	var out *CheckoutSession
	err := g.call(ctx, "checkout.sessions.create", func(ctx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			Mode:                stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			Customer:            stripe.String(req.CustomerID),
			ClientReferenceID:   stripe.String(req.UserID.String()),
			AllowPromotionCodes: stripe.Bool(false),
			SuccessURL:          stripe.String(req.SuccessURL),
			CancelURL:           stripe.String(req.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
			},
		}
		params.AddMetadata("user_id", req.UserID.String())
		if req.CouponCode != "" {
			params.AddMetadata("coupon_code", req.CouponCode)
		}
		if req.Discount != nil {
			discount := &stripe.CheckoutSessionDiscountParams{}
			switch req.Discount.Kind {
			case DiscountKindPromotionCode:
				discount.PromotionCode = stripe.String(req.Discount.ID)
			default:
				discount.Coupon = stripe.String(req.Discount.ID)
			}
			params.Discounts = []*stripe.CheckoutSessionDiscountParams{discount}
		}
		params.Context = ctx
		sess, err := checkoutsession.New(params)
		if err != nil {
			return err
		}
		out = &CheckoutSession{ID: sess.ID, URL: sess.URL}
		return nil
	})
	return out, err
}

// CreatePortalSession returns a billing portal URL for the customer.
func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	var url string
	err := g.call(ctx, "billing_portal.sessions.create", func(ctx context.Context) error {
		params := &stripe.BillingPortalSessionParams{
			Customer:  stripe.String(customerID),
			ReturnURL: stripe.String(returnURL),
		}
		params.Context = ctx
		sess, err := portalsession.New(params)
		if err != nil {
			return err
		}
		url = sess.URL
		return nil
	})
	return url, err
}

// LookupDiscount resolves an unprefixed reference as a promotion code first,
// then as a coupon.
func (g *Gateway) LookupDiscount(ctx context.Context, ref string) DiscountLookup {
	err := g.call(ctx, "promotion_codes.get", func(ctx context.Context) error {
		params := &stripe.PromotionCodeParams{}
		params.Context = ctx
		_, err := promotioncode.Get(ref, params)
		return err
	})
	if err == nil {
		return DiscountLookup{Outcome: DiscountFound, Discount: Discount{Kind: DiscountKindPromotionCode, ID: ref}}
	}
	if !IsNotFound(err) {
		return DiscountLookup{Outcome: DiscountUnavailable, Err: err}
	}

	err = g.call(ctx, "coupons.get", func(ctx context.Context) error {
		params := &stripe.CouponParams{}
		params.Context = ctx
		_, err := coupon.Get(ref, params)
		return err
	})
	switch {
	case err == nil:
		return DiscountLookup{Outcome: DiscountFound, Discount: Discount{Kind: DiscountKindCoupon, ID: ref}}
	case IsNotFound(err):
		return DiscountLookup{Outcome: DiscountNotFound}
	default:
		return DiscountLookup{Outcome: DiscountUnavailable, Err: err}
	}
}

func (g *Gateway) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !g.configured {
		return ErrNotConfigured
	}
	timeout := g.timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	g.metrics.ObserveStripeCall(operation, time.Since(start), err)
	return err
}
