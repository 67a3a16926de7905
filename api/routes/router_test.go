package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	billingsvc "github.com/angelmondragon/meetlessons-backend/internal/billing"
	devicesvc "github.com/angelmondragon/meetlessons-backend/internal/devices"
	pkgAuth "github.com/angelmondragon/meetlessons-backend/pkg/auth"
	"github.com/angelmondragon/meetlessons-backend/pkg/config"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubSettings struct{}

func (stubSettings) Load(context.Context) (billingsvc.Settings, error) {
	return billingsvc.Settings{}, nil
}

type stubEntitlements bool

func (s stubEntitlements) IsEntitled(context.Context, uuid.UUID) bool { return bool(s) }

func (s stubEntitlements) Resolve(context.Context, uuid.UUID) (bool, error) { return bool(s), nil }

type stubDevices struct {
	device *models.Device
}

func (s stubDevices) Dashboard(context.Context, uuid.UUID) (*devicesvc.Dashboard, error) {
	return &devicesvc.Dashboard{}, nil
}

func (s stubDevices) GenerateCode(context.Context, uuid.UUID) (*models.PairingCode, error) {
	return &models.PairingCode{Code: "A1B2C3D4", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (s stubDevices) Revoke(_ context.Context, userID, deviceID uuid.UUID) (*models.Device, error) {
	return &models.Device{ID: deviceID, UserID: userID}, nil
}

func (s stubDevices) Redeem(context.Context, string, string) (*devicesvc.PairResult, error) {
	return &devicesvc.PairResult{DeviceID: uuid.New(), Token: "t"}, nil
}

func (s stubDevices) Verify(context.Context, string) (*models.Device, error) {
	return s.device, nil
}

func (s stubDevices) RevokeAllForUser(context.Context, uuid.UUID) (int, error) {
	return 0, nil
}

type stubCheckout struct{}

func (stubCheckout) Checkout(context.Context, uuid.UUID, string) (*pkgstripe.CheckoutSession, error) {
	return &pkgstripe.CheckoutSession{URL: "https://checkout.test"}, nil
}

func (stubCheckout) Portal(context.Context, uuid.UUID) (string, error) {
	return "https://portal.test", nil
}

type stubWebhooks struct{}

func (stubWebhooks) HandleEvent(context.Context, stripe.Event) error { return nil }

type stubAdmin struct{}

func (stubAdmin) SavePlan(context.Context, billingsvc.PlanInput) (*models.BillingPlan, error) {
	return &models.BillingPlan{Name: "Pro"}, nil
}

func (stubAdmin) SaveCoupon(context.Context, billingsvc.CouponInput) (*models.Coupon, error) {
	return &models.Coupon{Code: "X"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "meetlessons-test", ExpirationMinutes: 5},
	}
}

func newTestRouter(cfg *config.Config, device *models.Device) http.Handler {
	return NewRouter(cfg, nil, Dependencies{
		DB:           stubPinger{},
		Metrics:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		Settings:     stubSettings{},
		Entitlements: stubEntitlements(true),
		Devices:      stubDevices{device: device},
		Checkout:     stubCheckout{},
		Webhooks:     stubWebhooks{},
		Admin:        stubAdmin{},
	})
}

func bearer(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "learner@example.com",
		Role:   role,
		JTI:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func serve(h http.Handler, method, path, auth string, headers map[string]string) *httptest.ResponseRecorder {
	var body *strings.Reader
	if method == http.MethodPost || method == http.MethodPut {
		body = strings.NewReader(`{}`)
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		if rec := serve(router, http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := serve(router, http.MethodGet, "/health/live", "", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestWebhookWithoutSecretIsConfigurationError(t *testing.T) {
	router := newTestRouter(testConfig(), nil)
	rec := serve(router, http.MethodPost, "/api/v1/webhooks/stripe", "", map[string]string{"Stripe-Signature": "t=1,v1=x"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestUserRoutesRequireJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/billing/plan"},
		{http.MethodPost, "/api/v1/billing/checkout"},
		{http.MethodPost, "/api/v1/billing/portal"},
		{http.MethodGet, "/api/v1/devices"},
		{http.MethodPost, "/api/v1/devices/pairing-codes"},
		{http.MethodPost, "/api/v1/devices/" + uuid.NewString() + "/revoke"},
	}
	for _, rt := range routes {
		if rec := serve(router, rt.method, rt.path, "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 without token, got %d", rt.method, rt.path, rec.Code)
		}
		if rec := serve(router, rt.method, rt.path, bearer(t, cfg, enums.UserRoleUser), nil); rec.Code >= 400 {
			t.Fatalf("%s %s: expected success with token, got %d: %s", rt.method, rt.path, rec.Code, rec.Body.String())
		}
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil)

	rec := serve(router, http.MethodPut, "/api/admin/v1/coupons", bearer(t, cfg, enums.UserRoleUser), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rec.Code)
	}
}

func TestDeviceSessionRequiresDeviceToken(t *testing.T) {
	cfg := testConfig()

	rec := serve(newTestRouter(cfg, nil), http.MethodGet, "/api/v1/device/session", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without device token, got %d", rec.Code)
	}

	device := &models.Device{ID: uuid.New(), UserID: uuid.New(), Label: "Laptop"}
	rec = serve(newTestRouter(cfg, device), http.MethodGet, "/api/v1/device/session", "", map[string]string{"X-Device-Token": device.ID.String() + ":secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with device token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPairRouteIsPublic(t *testing.T) {
	rec := serve(newTestRouter(testConfig(), nil), http.MethodPost, "/api/v1/devices/pair", "", nil)
	// The stub body is {} so the code field fails validation before redemption.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty pair body, got %d", rec.Code)
	}
}
