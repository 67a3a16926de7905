package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/api/middleware"
	"github.com/angelmondragon/meetlessons-backend/api/responses"
	"github.com/angelmondragon/meetlessons-backend/api/validators"
	billingsvc "github.com/angelmondragon/meetlessons-backend/internal/billing"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

type SettingsSource interface {
	Load(ctx context.Context) (billingsvc.Settings, error)
}

type EntitlementChecker interface {
	IsEntitled(ctx context.Context, userID uuid.UUID) bool
}

type CheckoutService interface {
	Checkout(ctx context.Context, userID uuid.UUID, couponCode string) (*pkgstripe.CheckoutSession, error)
	Portal(ctx context.Context, userID uuid.UUID) (string, error)
}

type planResponse struct {
	Plan           billingsvc.PlanView `json:"plan"`
	BillingEnabled bool                `json:"billing_enabled"`
	Subscribed     bool                `json:"subscribed"`
}

type checkoutRequest struct {
	CouponCode string `json:"coupon_code" validate:"max=64"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// Plan renders the plan with its derived display prices.
func Plan(settings SettingsSource, checker EntitlementChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		current, err := settings.Load(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing settings"))
			return
		}
		responses.WriteSuccess(w, planResponse{
			Plan:           billingsvc.NewPlanView(current.Plan),
			BillingEnabled: current.Enabled(),
			Subscribed:     checker.IsEntitled(ctx, userID),
		})
	}
}

// Checkout starts a hosted Stripe checkout. The body is optional.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		var req checkoutRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		session, err := svc.Checkout(ctx, userID, req.CouponCode)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, redirectResponse{URL: session.URL})
	}
}

// Portal returns the Stripe billing portal URL.
func Portal(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		url, err := svc.Portal(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, redirectResponse{URL: url})
	}
}
