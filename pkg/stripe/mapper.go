package stripe

import (
	"sort"
	"time"

	"github.com/stripe/stripe-go/v84"
)

// SubscriptionSnapshot is the subset of a Stripe subscription the local cache keeps.
type SubscriptionSnapshot struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	Created           time.Time
}

// SnapshotFromSubscription flattens a Stripe subscription. Period end lives on
// the first item in current API versions.
func SnapshotFromSubscription(sub *stripe.Subscription) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	snap := &SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Created:           unixToTime(sub.Created),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := unixToTime(item.CurrentPeriodEnd)
			snap.CurrentPeriodEnd = &end
		}
	}
	return snap
}

// MostRecent returns the snapshot created last, or nil for an empty slice.
func MostRecent(snapshots []*SubscriptionSnapshot) *SubscriptionSnapshot {
	candidates := make([]*SubscriptionSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap != nil {
			candidates = append(candidates, snap)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Created.After(candidates[j].Created)
	})
	return candidates[0]
}

func unixToTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
