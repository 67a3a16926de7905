package stripe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"
)

func TestSnapshotFromSubscriptionPayload(t *testing.T) {
	payload := []byte(`{
		"id": "sub_123",
		"object": "subscription",
		"customer": "cus_123",
		"status": "active",
		"cancel_at_period_end": true,
		"created": 1700000000,
		"items": {"object": "list", "data": [{"id": "si_1", "current_period_end": 1702592000, "price": {"id": "price_abc"}}]}
	}`)
	var sub stripe.Subscription
	if err := json.Unmarshal(payload, &sub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	snap := SnapshotFromSubscription(&sub)
	if snap.ID != "sub_123" || snap.CustomerID != "cus_123" {
		t.Fatalf("unexpected ids: %+v", snap)
	}
	if snap.Status != "active" || !snap.CancelAtPeriodEnd {
		t.Fatalf("unexpected state: %+v", snap)
	}
	if snap.PriceID != "price_abc" {
		t.Fatalf("expected price_abc, got %q", snap.PriceID)
	}
	if snap.CurrentPeriodEnd == nil || !snap.CurrentPeriodEnd.Equal(time.Unix(1702592000, 0)) {
		t.Fatalf("unexpected period end %v", snap.CurrentPeriodEnd)
	}
	if !snap.Created.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected created %v", snap.Created)
	}
}

func TestSnapshotFromSubscriptionWithoutItems(t *testing.T) {
	snap := SnapshotFromSubscription(&stripe.Subscription{ID: "sub_1", Status: stripe.SubscriptionStatusCanceled})
	if snap.PriceID != "" || snap.CurrentPeriodEnd != nil || snap.CustomerID != "" {
		t.Fatalf("expected empty optional fields, got %+v", snap)
	}
	if SnapshotFromSubscription(nil) != nil {
		t.Fatal("expected nil snapshot for nil subscription")
	}
}

func TestMostRecentPicksLatestCreated(t *testing.T) {
	now := time.Now()
	older := &SubscriptionSnapshot{ID: "old", Created: now.Add(-time.Hour)}
	newer := &SubscriptionSnapshot{ID: "new", Created: now}

	if got := MostRecent([]*SubscriptionSnapshot{older, nil, newer}); got == nil || got.ID != "new" {
		t.Fatalf("expected newest snapshot, got %+v", got)
	}
	if MostRecent(nil) != nil {
		t.Fatal("expected nil for empty list")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(&stripe.Error{Code: stripe.ErrorCodeResourceMissing}) {
		t.Fatal("expected resource_missing to be not found")
	}
	if !IsNotFound(&stripe.Error{HTTPStatusCode: 404}) {
		t.Fatal("expected 404 to be not found")
	}
	if IsNotFound(&stripe.Error{HTTPStatusCode: 500}) {
		t.Fatal("expected 500 to be a transient error")
	}
}
