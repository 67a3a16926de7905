package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/api/responses"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
)

// DeviceTokenHeader carries the paired desktop client's bearer token.
const DeviceTokenHeader = "X-Device-Token"

// DeviceVerifier resolves a device token; nil, nil means the token is not valid.
type DeviceVerifier interface {
	Verify(ctx context.Context, token string) (*models.Device, error)
}

// EntitlementResolver answers whether a user may use the paid feature. An
// error means the answer is unknown.
type EntitlementResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (bool, error)
}

// DeviceRevoker revokes every device and pairing code of a user already
// found to be unentitled.
type DeviceRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// DeviceAuth authenticates desktop clients by X-Device-Token.
func DeviceAuth(verifier DeviceVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := strings.TrimSpace(r.Header.Get(DeviceTokenHeader))
			if token == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "Missing X-Device-Token header"))
				return
			}

			device, err := verifier.Verify(ctx, token)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if device == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "Invalid or revoked device token"))
				return
			}

			ctx = WithDevice(ctx, device)
			if logg != nil {
				ctx = logg.WithDeviceID(ctx, device.ID.String())
				ctx = logg.WithUserID(ctx, device.UserID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireEntitlement rejects users without an active subscription. Devices
// of a rejected user are revoked before answering; when entitlement cannot
// be decided the request fails with 503 and nothing is revoked.
func RequireEntitlement(resolver EntitlementResolver, revoker DeviceRevoker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, ok := UserUUIDFromContext(ctx)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
				return
			}
			entitled, err := resolver.Resolve(ctx, userID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "entitlement unavailable"))
				return
			}
			if !entitled {
				if revoker != nil {
					if _, err := revoker.RevokeAllForUser(ctx, userID); err != nil && logg != nil {
						logg.Error(ctx, "failed to revoke devices for unentitled user", err)
					}
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "Subscription required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
