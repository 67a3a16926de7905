package stripe

import (
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// SignatureHeader is the header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

var (
	ErrSigningSecretMissing = errors.New("stripe webhook secret is not configured")
	ErrSignatureMissing     = errors.New("stripe signature missing")
)

// VerifyEvent checks the signature and decodes the envelope. API version
// mismatches are tolerated because payloads are read field by field.
func VerifyEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	if strings.TrimSpace(secret) == "" {
		return stripe.Event{}, ErrSigningSecretMissing
	}
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, ErrSignatureMissing
	}
	return webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
