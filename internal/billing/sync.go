package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	"github.com/angelmondragon/meetlessons-backend/pkg/enums"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

// MergeSnapshot folds a Stripe snapshot into the cached row for userID.
// Blank snapshot fields keep the cached value; the cancel flag and period end
// always follow Stripe.
func MergeSnapshot(current *models.Subscription, userID uuid.UUID, snap *pkgstripe.SubscriptionSnapshot, now time.Time) *models.Subscription {
	next := models.Subscription{UserID: userID}
	if current != nil {
		next = *current
		next.UserID = userID
	}
	if snap == nil {
		next.UpdatedAt = now.UTC()
		return &next
	}
	if snap.ID != "" {
		next.StripeSubscriptionID = snap.ID
	}
	if snap.Status != "" {
		next.Status = enums.SubscriptionStatus(snap.Status)
	}
	if snap.PriceID != "" {
		next.PriceID = snap.PriceID
	}
	next.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	if snap.CurrentPeriodEnd != nil {
		end := snap.CurrentPeriodEnd.UTC()
		next.CurrentPeriodEnd = &end
	}
	next.UpdatedAt = now.UTC()
	return &next
}

// LostAccess reports whether a write moved the user from entitled to not entitled.
func LostAccess(before, after *models.Subscription) bool {
	return before.GrantsAccess() && !after.GrantsAccess()
}
