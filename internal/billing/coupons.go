package billing

import (
	"time"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
)

// User-visible coupon rejection reasons.
const (
	ReasonInvalidCoupon       = "Invalid coupon code."
	ReasonCouponInactive      = "Coupon is inactive."
	ReasonCouponExpired       = "Coupon is expired."
	ReasonCouponExhausted     = "Coupon has reached its redemption limit."
	ReasonCouponMisconfigured = "Coupon is misconfigured."
	ReasonDiscountInvalid     = "Invalid Stripe coupon/promotion code configuration."
)

// CheckRedeemable returns a validation error carrying the user-visible reason
// when the coupon cannot be applied at now, in order: inactive, expired,
// exhausted, missing discount reference.
func CheckRedeemable(coupon *models.Coupon, now time.Time) error {
	switch {
	case coupon == nil:
		return pkgerrors.New(pkgerrors.CodeValidation, ReasonInvalidCoupon)
	case !coupon.Active:
		return pkgerrors.New(pkgerrors.CodeValidation, ReasonCouponInactive)
	case coupon.Expired(now):
		return pkgerrors.New(pkgerrors.CodeValidation, ReasonCouponExpired)
	case !coupon.HasHeadroom():
		return pkgerrors.New(pkgerrors.CodeValidation, ReasonCouponExhausted)
	case coupon.StripeDiscountID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, ReasonCouponMisconfigured)
	}
	return nil
}
