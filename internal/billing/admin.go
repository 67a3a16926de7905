package billing

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

// PlanInput is the operator-editable plan payload.
type PlanInput struct {
	Name                   string `json:"name" validate:"required,max=100"`
	Currency               string `json:"currency" validate:"required,len=3"`
	MonthlyPriceCents      int64  `json:"monthly_price_cents" validate:"gte=0"`
	MonthlyDiscountPercent int    `json:"monthly_discount_percent" validate:"gte=0,lte=90"`
	StripePriceID          string `json:"stripe_price_id" validate:"max=255"`
	Active                 bool   `json:"active"`
}

// CouponInput is the operator-editable coupon payload. Coupons are keyed by code.
type CouponInput struct {
	Code             string     `json:"code" validate:"required,max=64"`
	StripeDiscountID string     `json:"stripe_discount_id" validate:"max=255"`
	Active           *bool      `json:"active"`
	ExpiresAt        *time.Time `json:"expires_at"`
	MaxRedemptions   *int       `json:"max_redemptions"`
}

// AdminService applies operator edits with write-time validation.
type AdminService struct {
	repo   Repository
	lookup DiscountLookuper
}

// NewAdminService wires the store and, when Stripe is configured, the lookup
// used to verify unprefixed discount references.
func NewAdminService(repo Repository, lookup DiscountLookuper) (*AdminService, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	return &AdminService{repo: repo, lookup: lookup}, nil
}

// SavePlan validates and writes the singleton plan row.
func (s *AdminService) SavePlan(ctx context.Context, input PlanInput) (*models.BillingPlan, error) {
	priceID := strings.TrimSpace(input.StripePriceID)
	if priceID != "" && !strings.HasPrefix(priceID, models.StripePricePrefix) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Must be a Stripe Price ID (price_...), not a Product ID (prod_...) or numeric amount.").
			WithDetails(map[string]any{"field": "stripe_price_id"})
	}
	if input.MonthlyDiscountPercent < 0 || input.MonthlyDiscountPercent > 90 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "monthly discount must be between 0 and 90")
	}

	plan := &models.BillingPlan{
		ID:                     models.BillingPlanID,
		Name:                   strings.TrimSpace(input.Name),
		Currency:               strings.ToLower(strings.TrimSpace(input.Currency)),
		MonthlyPriceCents:      input.MonthlyPriceCents,
		MonthlyDiscountPercent: input.MonthlyDiscountPercent,
		StripePriceID:          priceID,
		Active:                 input.Active,
	}
	if err := s.repo.SavePlan(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save billing plan")
	}
	return s.repo.FindPlan(ctx)
}

// SaveCoupon creates or edits the coupon with the normalized code.
func (s *AdminService) SaveCoupon(ctx context.Context, input CouponInput) (*models.Coupon, error) {
	code := models.NormalizeCouponCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Coupon code cannot be empty.")
	}
	if input.MaxRedemptions != nil && *input.MaxRedemptions <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Must be a positive integer.").
			WithDetails(map[string]any{"field": "max_redemptions"})
	}

	existing, err := s.repo.FindCouponByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if existing != nil && input.MaxRedemptions != nil && *input.MaxRedemptions < existing.RedeemedCount {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max_redemptions cannot be lower than the redemptions already recorded")
	}

	discountID := strings.TrimSpace(input.StripeDiscountID)
	if err := s.verifyDiscount(ctx, discountID); err != nil {
		return nil, err
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}
	coupon := &models.Coupon{
		Code:             code,
		StripeDiscountID: discountID,
		Active:           active,
		ExpiresAt:        input.ExpiresAt,
		MaxRedemptions:   input.MaxRedemptions,
	}
	if err := s.repo.SaveCoupon(ctx, coupon); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save coupon")
	}
	return s.repo.FindCouponByCode(ctx, code)
}

func (s *AdminService) verifyDiscount(ctx context.Context, ref string) error {
	if ref == "" || strings.HasPrefix(ref, couponPrefix) || strings.HasPrefix(ref, promotionCodePrefix) {
		return nil
	}
	// Without Stripe the reference is stored unverified; checkout resolves
	// it again before any session is created.
	if s.lookup == nil {
		return nil
	}
	result := s.lookup.LookupDiscount(ctx, ref)
	switch result.Outcome {
	case pkgstripe.DiscountFound:
		return nil
	case pkgstripe.DiscountNotFound:
		return pkgerrors.New(pkgerrors.CodeValidation, "Enter a valid Stripe Promotion Code ID or Coupon ID.").
			WithDetails(map[string]any{"field": "stripe_discount_id"})
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Err, "verify stripe discount")
	}
}
