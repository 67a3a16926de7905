package stripe

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"
)

// DiscountKind says which Stripe object a discount reference points at.
type DiscountKind string

const (
	DiscountKindCoupon        DiscountKind = "coupon"
	DiscountKindPromotionCode DiscountKind = "promotion_code"
)

// Discount is a resolved Stripe discount reference.
type Discount struct {
	Kind DiscountKind
	ID   string
}

// DiscountOutcome distinguishes a missing reference from an unreachable Stripe.
type DiscountOutcome int

const (
	DiscountFound DiscountOutcome = iota
	DiscountNotFound
	DiscountUnavailable
)

// DiscountLookup is the result of resolving an unprefixed discount reference.
type DiscountLookup struct {
	Outcome  DiscountOutcome
	Discount Discount
	Err      error
}

// IsNotFound reports whether err is a Stripe resource_missing / 404 response.
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}
