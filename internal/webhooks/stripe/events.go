package stripewebhook

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

// Event is one of CheckoutCompleted, SubscriptionChanged, InvoiceSettled or Ignored.
type Event interface {
	isEvent()
}

// CheckoutCompleted is a finished subscription-mode checkout session.
type CheckoutCompleted struct {
	UserID         uuid.UUID
	CustomerID     string
	SubscriptionID string
	CouponCode     string
}

// SubscriptionChanged carries the subscription object of a customer.subscription.* event.
type SubscriptionChanged struct {
	CustomerID   string
	Subscription *pkgstripe.SubscriptionSnapshot
}

// InvoiceSettled is a paid or failed invoice; the subscription is re-fetched.
type InvoiceSettled struct {
	CustomerID     string
	SubscriptionID string
}

// Ignored covers event types without a handler and payloads lacking the
// linkage needed to act on them.
type Ignored struct {
	Type   string
	Reason string
}

func (CheckoutCompleted) isEvent()   {}
func (SubscriptionChanged) isEvent() {}
func (InvoiceSettled) isEvent()      {}
func (Ignored) isEvent()             {}

const (
	ignoreUnhandledType   = "unhandled_type"
	ignoreNotSubscription = "not_subscription_mode"
	ignoreNoUser          = "no_user_reference"
	ignoreNoCustomer      = "no_customer"
	ignoreNoSubscription  = "no_subscription"
)

// ParseEvent decodes a verified event into its variant. Decode failures are
// returned so the caller can answer 400.
func ParseEvent(event stripe.Event) (Event, error) {
	eventType := enums.StripeEventType(event.Type)
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch {
	case eventType == enums.StripeEventCheckoutSessionCompleted:
		return parseCheckout(raw)
	case eventType.IsSubscriptionChange():
		return parseSubscription(string(eventType), raw)
	case eventType.IsInvoiceSettlement():
		return parseInvoice(string(eventType), raw)
	}
	return Ignored{Type: string(eventType), Reason: ignoreUnhandledType}, nil
}

func parseCheckout(raw json.RawMessage) (Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription {
		return Ignored{Type: string(enums.StripeEventCheckoutSessionCompleted), Reason: ignoreNotSubscription}, nil
	}

	ref := strings.TrimSpace(session.ClientReferenceID)
	if ref == "" {
		ref = strings.TrimSpace(session.Metadata["user_id"])
	}
	userID, err := uuid.Parse(ref)
	if err != nil || userID == uuid.Nil {
		return Ignored{Type: string(enums.StripeEventCheckoutSessionCompleted), Reason: ignoreNoUser}, nil
	}

	evt := CheckoutCompleted{
		UserID:     userID,
		CouponCode: session.Metadata["coupon_code"],
	}
	if session.Customer != nil {
		evt.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		evt.SubscriptionID = session.Subscription.ID
	}
	return evt, nil
}

func parseSubscription(eventType string, raw json.RawMessage) (Event, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	snap := pkgstripe.SnapshotFromSubscription(&sub)
	if snap.CustomerID == "" {
		return Ignored{Type: eventType, Reason: ignoreNoCustomer}, nil
	}
	return SubscriptionChanged{CustomerID: snap.CustomerID, Subscription: snap}, nil
}

// invoicePayload reads only the linkage fields. Older API versions put the
// subscription at the top level, newer ones under parent.subscription_details.
type invoicePayload struct {
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func parseInvoice(eventType string, raw json.RawMessage) (Event, error) {
	var invoice invoicePayload
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, err
	}
	subscriptionID := string(invoice.Subscription)
	if subscriptionID == "" && invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		subscriptionID = string(invoice.Parent.SubscriptionDetails.Subscription)
	}
	switch {
	case invoice.Customer == "":
		return Ignored{Type: eventType, Reason: ignoreNoCustomer}, nil
	case subscriptionID == "":
		return Ignored{Type: eventType, Reason: ignoreNoSubscription}, nil
	}
	return InvoiceSettled{CustomerID: string(invoice.Customer), SubscriptionID: subscriptionID}, nil
}

// expandableID accepts either an id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(strings.TrimSpace(id))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(strings.TrimSpace(obj.ID))
	return nil
}
