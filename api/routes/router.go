package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/meetlessons-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/meetlessons-backend/api/controllers/admin"
	billingcontrollers "github.com/angelmondragon/meetlessons-backend/api/controllers/billing"
	devicecontrollers "github.com/angelmondragon/meetlessons-backend/api/controllers/devices"
	webhookcontrollers "github.com/angelmondragon/meetlessons-backend/api/controllers/webhooks"
	"github.com/angelmondragon/meetlessons-backend/api/middleware"
	"github.com/angelmondragon/meetlessons-backend/pkg/config"
	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	"github.com/angelmondragon/meetlessons-backend/pkg/redis"
)

const pairPolicyName = "device_pair"

// DeviceAuthority is everything the device routes need from the authority.
type DeviceAuthority interface {
	devicecontrollers.Authority
	middleware.DeviceVerifier
	middleware.DeviceRevoker
}

// Entitlements serves both the device gate and the plan view.
type Entitlements interface {
	middleware.EntitlementResolver
	billingcontrollers.EntitlementChecker
}

// Dependencies are the collaborators mounted by NewRouter. Redis and Metrics
// are optional.
type Dependencies struct {
	DB            controllers.Pinger
	Redis         *redis.Client
	Metrics       http.Handler
	Settings      billingcontrollers.SettingsSource
	Entitlements  Entitlements
	Devices       DeviceAuthority
	Checkout      billingcontrollers.CheckoutService
	Webhooks      webhookcontrollers.StripeWebhookService
	Admin         admincontrollers.BillingAdmin
	WebhookSecret string
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	// A nil *redis.Client must not reach the interfaces below as a typed nil.
	var (
		redisPinger controllers.Pinger
		limiter     middleware.RateLimitStore
	)
	if deps.Redis != nil {
		redisPinger = deps.Redis
		limiter = deps.Redis
	}
	pairPolicy := middleware.NewRateLimitPolicy(pairPolicyName, cfg.PairRateLimit.Window, cfg.PairRateLimit.IPLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisPinger))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, deps.WebhookSecret, logg))

		r.With(middleware.RateLimit(pairPolicy, limiter, logg)).
			Post("/devices/pair", devicecontrollers.Pair(deps.Devices, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.DeviceAuth(deps.Devices, logg))
			r.Use(middleware.RequireEntitlement(deps.Entitlements, deps.Devices, logg))
			r.Get("/device/session", devicecontrollers.Session(logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Route("/billing", func(r chi.Router) {
				r.Get("/plan", billingcontrollers.Plan(deps.Settings, deps.Entitlements, logg))
				r.Post("/checkout", billingcontrollers.Checkout(deps.Checkout, logg))
				r.Post("/portal", billingcontrollers.Portal(deps.Checkout, logg))
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", devicecontrollers.Dashboard(deps.Devices, logg))
				r.Post("/pairing-codes", devicecontrollers.CreatePairingCode(deps.Devices, logg))
				r.Post("/{deviceId}/revoke", devicecontrollers.Revoke(deps.Devices, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))
		r.Put("/billing/plan", admincontrollers.SavePlan(deps.Admin, logg))
		r.Put("/coupons", admincontrollers.SaveCoupon(deps.Admin, logg))
	})

	return r
}
