package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

func TestCheckRedeemableReasons(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	one := 1

	cases := []struct {
		name   string
		coupon *models.Coupon
		reason string
	}{
		{"unknown", nil, ReasonInvalidCoupon},
		{"inactive", &models.Coupon{Active: false, StripeDiscountID: "coupon_x"}, ReasonCouponInactive},
		{"expired", &models.Coupon{Active: true, ExpiresAt: &past, StripeDiscountID: "coupon_x"}, ReasonCouponExpired},
		{"exhausted", &models.Coupon{Active: true, MaxRedemptions: &one, RedeemedCount: 1, StripeDiscountID: "coupon_x"}, ReasonCouponExhausted},
		{"misconfigured", &models.Coupon{Active: true, ExpiresAt: &future}, ReasonCouponMisconfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckRedeemable(tc.coupon, now)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if typed.Message() != tc.reason {
				t.Fatalf("expected %q, got %q", tc.reason, typed.Message())
			}
		})
	}

	if err := CheckRedeemable(&models.Coupon{Active: true, ExpiresAt: &future, MaxRedemptions: &one, StripeDiscountID: "promo_1"}, now); err != nil {
		t.Fatalf("expected redeemable coupon, got %v", err)
	}
}

type stubLookup struct {
	result pkgstripe.DiscountLookup
	calls  []string
}

func (s *stubLookup) LookupDiscount(ctx context.Context, ref string) pkgstripe.DiscountLookup {
	s.calls = append(s.calls, ref)
	return s.result
}

func TestResolveDiscountPrefixes(t *testing.T) {
	lookup := &stubLookup{}

	got := ResolveDiscount(context.Background(), lookup, "coupon_abc")
	if got.Outcome != pkgstripe.DiscountFound || got.Discount.Kind != pkgstripe.DiscountKindCoupon {
		t.Fatalf("unexpected coupon resolution %+v", got)
	}
	got = ResolveDiscount(context.Background(), lookup, "promo_abc")
	if got.Outcome != pkgstripe.DiscountFound || got.Discount.Kind != pkgstripe.DiscountKindPromotionCode {
		t.Fatalf("unexpected promo resolution %+v", got)
	}
	if len(lookup.calls) != 0 {
		t.Fatalf("prefixed references must not hit stripe, got %v", lookup.calls)
	}
}

func TestResolveDiscountLooksUpUnprefixed(t *testing.T) {
	lookup := &stubLookup{result: pkgstripe.DiscountLookup{Outcome: pkgstripe.DiscountUnavailable, Err: errors.New("timeout")}}

	got := ResolveDiscount(context.Background(), lookup, "SPRING")
	if got.Outcome != pkgstripe.DiscountUnavailable {
		t.Fatalf("expected unavailable, got %+v", got)
	}
	if len(lookup.calls) != 1 || lookup.calls[0] != "SPRING" {
		t.Fatalf("expected one lookup, got %v", lookup.calls)
	}

	if got := ResolveDiscount(context.Background(), lookup, ""); got.Outcome != pkgstripe.DiscountNotFound {
		t.Fatalf("expected not found for empty reference, got %+v", got)
	}
}
