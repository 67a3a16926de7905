package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/meetlessons-backend/api/responses"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

// StripeWebhook verifies and applies Stripe subscription lifecycle events.
// Signature problems answer 400; processing failures answer 500 so Stripe retries.
func StripeWebhook(svc StripeWebhookService, signingSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		event, err := pkgstripe.VerifyEvent(payload, r.Header.Get(pkgstripe.SignatureHeader), signingSecret)
		switch {
		case errors.Is(err, pkgstripe.ErrSigningSecretMissing):
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "stripe webhook secret missing"))
			return
		case err != nil:
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process stripe event")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
