package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

func TestMergeSnapshotKeepsCachedFieldsWhenBlank(t *testing.T) {
	userID := uuid.New()
	now := time.Now()
	current := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: "sub_old",
		PriceID:              "price_old",
		Status:               enums.SubscriptionStatusActive,
		CancelAtPeriodEnd:    true,
	}
	end := now.Add(24 * time.Hour)

	next := MergeSnapshot(current, userID, &pkgstripe.SubscriptionSnapshot{
		Status:           "past_due",
		CurrentPeriodEnd: &end,
	}, now)

	if next.StripeSubscriptionID != "sub_old" || next.PriceID != "price_old" {
		t.Fatalf("expected cached ids kept, got %+v", next)
	}
	if next.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %s", next.Status)
	}
	if next.CancelAtPeriodEnd {
		t.Fatal("cancel flag must follow stripe")
	}
	if next.CurrentPeriodEnd == nil || !next.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("unexpected period end %v", next.CurrentPeriodEnd)
	}
	if !next.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated_at refreshed")
	}
	if current.Status != enums.SubscriptionStatusActive {
		t.Fatal("current row must not be mutated")
	}
}

func TestLostAccess(t *testing.T) {
	active := &models.Subscription{Status: enums.SubscriptionStatusActive}
	trialing := &models.Subscription{Status: enums.SubscriptionStatusTrialing}
	canceled := &models.Subscription{Status: enums.SubscriptionStatusCanceled}

	if !LostAccess(active, canceled) {
		t.Fatal("active -> canceled loses access")
	}
	if LostAccess(active, trialing) {
		t.Fatal("active -> trialing keeps access")
	}
	if LostAccess(nil, canceled) {
		t.Fatal("no prior row never loses access")
	}
	if LostAccess(canceled, canceled) {
		t.Fatal("already unentitled is not a transition")
	}
}
