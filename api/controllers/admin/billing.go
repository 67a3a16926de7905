package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/api/responses"
	"github.com/angelmondragon/meetlessons-backend/api/validators"
	billingsvc "github.com/angelmondragon/meetlessons-backend/internal/billing"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
)

// BillingAdmin applies operator edits to the plan and coupon tables.
type BillingAdmin interface {
	SavePlan(ctx context.Context, input billingsvc.PlanInput) (*models.BillingPlan, error)
	SaveCoupon(ctx context.Context, input billingsvc.CouponInput) (*models.Coupon, error)
}

type couponDTO struct {
	ID               uuid.UUID  `json:"id"`
	Code             string     `json:"code"`
	StripeDiscountID string     `json:"stripe_discount_id"`
	Active           bool       `json:"active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	MaxRedemptions   *int       `json:"max_redemptions,omitempty"`
	RedeemedCount    int        `json:"redeemed_count"`
}

func SavePlan(svc BillingAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input billingsvc.PlanInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		plan, err := svc.SavePlan(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logg.Info(logg.WithField(ctx, "stripe_price_id", plan.StripePriceID), "admin.plan_saved")
		responses.WriteSuccess(w, billingsvc.NewPlanView(plan))
	}
}

func SaveCoupon(svc BillingAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var input billingsvc.CouponInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		coupon, err := svc.SaveCoupon(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logg.Info(logg.WithField(ctx, "coupon_code", coupon.Code), "admin.coupon_saved")
		responses.WriteSuccess(w, couponDTO{
			ID:               coupon.ID,
			Code:             coupon.Code,
			StripeDiscountID: coupon.StripeDiscountID,
			Active:           coupon.Active,
			ExpiresAt:        coupon.ExpiresAt,
			MaxRedemptions:   coupon.MaxRedemptions,
			RedeemedCount:    coupon.RedeemedCount,
		})
	}
}
