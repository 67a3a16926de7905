package enums

import "strings"

// StripeEventType names the webhook event types the ingestor dispatches on.
type StripeEventType string

const (
	StripeEventCheckoutSessionCompleted StripeEventType = "checkout.session.completed"
	StripeEventInvoicePaid              StripeEventType = "invoice.paid"
	StripeEventInvoicePaymentFailed     StripeEventType = "invoice.payment_failed"

	stripeSubscriptionEventPrefix = "customer.subscription."
)

// String implements fmt.Stringer.
func (t StripeEventType) String() string {
	return string(t)
}

// IsSubscriptionChange reports whether the type belongs to the customer.subscription.* family.
func (t StripeEventType) IsSubscriptionChange() bool {
	return strings.HasPrefix(string(t), stripeSubscriptionEventPrefix)
}

// IsInvoiceSettlement reports whether the type is a paid or failed invoice.
func (t StripeEventType) IsInvoiceSettlement() bool {
	return t == StripeEventInvoicePaid || t == StripeEventInvoicePaymentFailed
}
