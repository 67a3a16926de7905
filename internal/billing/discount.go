package billing

import (
	"context"
	"strings"

	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

const (
	couponPrefix        = "coupon_"
	promotionCodePrefix = "promo_"
)

// DiscountLookuper resolves an unprefixed Stripe discount reference.
type DiscountLookuper interface {
	LookupDiscount(ctx context.Context, ref string) pkgstripe.DiscountLookup
}

// ResolveDiscount maps a stored discount reference to a Stripe discount.
// Prefixed references are trusted as-is; anything else is looked up as a
// promotion code and then as a coupon.
func ResolveDiscount(ctx context.Context, lookup DiscountLookuper, ref string) pkgstripe.DiscountLookup {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return pkgstripe.DiscountLookup{Outcome: pkgstripe.DiscountNotFound}
	case strings.HasPrefix(ref, couponPrefix):
		return pkgstripe.DiscountLookup{Outcome: pkgstripe.DiscountFound, Discount: pkgstripe.Discount{Kind: pkgstripe.DiscountKindCoupon, ID: ref}}
	case strings.HasPrefix(ref, promotionCodePrefix):
		return pkgstripe.DiscountLookup{Outcome: pkgstripe.DiscountFound, Discount: pkgstripe.Discount{Kind: pkgstripe.DiscountKindPromotionCode, ID: ref}}
	}
	if lookup == nil {
		return pkgstripe.DiscountLookup{Outcome: pkgstripe.DiscountUnavailable}
	}
	return lookup.LookupDiscount(ctx, ref)
}
