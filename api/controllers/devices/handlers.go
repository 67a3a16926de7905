package devices

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/api/middleware"
	"github.com/angelmondragon/meetlessons-backend/api/responses"
	"github.com/angelmondragon/meetlessons-backend/api/validators"
	devicesvc "github.com/angelmondragon/meetlessons-backend/internal/devices"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
)

// Authority is the subset of the device authority the handlers call.
type Authority interface {
	Dashboard(ctx context.Context, userID uuid.UUID) (*devicesvc.Dashboard, error)
	GenerateCode(ctx context.Context, userID uuid.UUID) (*models.PairingCode, error)
	Revoke(ctx context.Context, userID, deviceID uuid.UUID) (*models.Device, error)
	Redeem(ctx context.Context, code, label string) (*devicesvc.PairResult, error)
}

type deviceDTO struct {
	ID         uuid.UUID  `json:"id"`
	Label      string     `json:"label"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Active     bool       `json:"active"`
}

type pairingCodeDTO struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type dashboardResponse struct {
	BillingEnforced    bool            `json:"billing_enforced"`
	SubscriptionActive bool            `json:"subscription_active"`
	AutoRevokedCount   int             `json:"auto_revoked_count"`
	Devices            []deviceDTO     `json:"devices"`
	ActiveCode         *pairingCodeDTO `json:"active_code"`
}

type pairRequest struct {
	Code  string `json:"code" validate:"required,max=32"`
	Label string `json:"label"`
}

type pairResponse struct {
	DeviceID uuid.UUID `json:"device_id"`
	Token    string    `json:"token"`
}

type sessionResponse struct {
	DeviceID   uuid.UUID  `json:"device_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Label      string     `json:"label"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func toDeviceDTO(d models.Device) deviceDTO {
	return deviceDTO{
		ID:         d.ID,
		Label:      d.Label,
		CreatedAt:  d.CreatedAt,
		LastSeenAt: d.LastSeenAt,
		RevokedAt:  d.RevokedAt,
		Active:     d.RevokedAt == nil,
	}
}

func toCodeDTO(code *models.PairingCode) *pairingCodeDTO {
	if code == nil {
		return nil
	}
	return &pairingCodeDTO{Code: code.Code, ExpiresAt: code.ExpiresAt}
}

// Dashboard lists the caller's devices after applying the lazy cascade.
func Dashboard(authority Authority, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		view, err := authority.Dashboard(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		items := make([]deviceDTO, 0, len(view.Devices))
		for _, d := range view.Devices {
			items = append(items, toDeviceDTO(d))
		}
		responses.WriteSuccess(w, dashboardResponse{
			BillingEnforced:    view.BillingEnforced,
			SubscriptionActive: view.SubscriptionActive,
			AutoRevokedCount:   view.AutoRevokedCount,
			Devices:            items,
			ActiveCode:         toCodeDTO(view.ActiveCode),
		})
	}
}

func CreatePairingCode(authority Authority, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		code, err := authority.GenerateCode(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toCodeDTO(code))
	}
}

func Revoke(authority Authority, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		deviceID, err := validators.ParseUUIDParam(r, "deviceId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		device, err := authority.Revoke(ctx, userID, deviceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toDeviceDTO(*device))
	}
}

// Pair redeems a pairing code. The response carries the only copy of the token.
func Pair(authority Authority, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req pairRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := authority.Redeem(ctx, req.Code, req.Label)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logg.Info(logg.WithDeviceID(ctx, result.DeviceID.String()), "device.paired")
		responses.WriteSuccessStatus(w, http.StatusCreated, pairResponse{
			DeviceID: result.DeviceID,
			Token:    result.Token,
		})
	}
}

// Session is the device-authenticated paid endpoint used by capture clients.
func Session(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		device := middleware.DeviceFromContext(ctx)
		if device == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "device authentication required"))
			return
		}
		responses.WriteSuccess(w, sessionResponse{
			DeviceID:   device.ID,
			UserID:     device.UserID,
			Label:      device.Label,
			LastSeenAt: device.LastSeenAt,
		})
	}
}
