package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/meetlessons-backend/internal/repo"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
)

// Repository is the subscription store: plan, coupons, customers,
// subscriptions and the processed-event ledger. Finders return nil, nil when
// the row does not exist.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindPlan(ctx context.Context) (*models.BillingPlan, error)
	SavePlan(ctx context.Context, plan *models.BillingPlan) error

	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	SaveCoupon(ctx context.Context, coupon *models.Coupon) error
	IncrementCouponRedemptions(ctx context.Context, couponID uuid.UUID) (bool, error)

	FindCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.StripeCustomer, error)
	FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.StripeCustomer, error)
	UpsertCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error

	FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error

	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
	EventRecorded(ctx context.Context, eventID string) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindPlan(ctx context.Context) (*models.BillingPlan, error) {
	return repo.FindOne[models.BillingPlan](r.DB(ctx), "id = ?", models.BillingPlanID)
}

func (r *repository) SavePlan(ctx context.Context, plan *models.BillingPlan) error {
	plan.ID = models.BillingPlanID
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "currency", "monthly_price_cents", "monthly_discount_percent", "stripe_price_id", "active", "updated_at"}),
		}).
		Create(plan).Error
}

func (r *repository) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return repo.FindOne[models.Coupon](r.DB(ctx), "code = ?", code)
}

// LockCouponByCode loads the coupon with SELECT ... FOR UPDATE. Only
// meaningful inside a transaction.
func (r *repository) LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	q := r.DB(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return repo.FindOne[models.Coupon](q, "code = ?", code)
}

// SaveCoupon creates the coupon or updates the operator-editable columns of
// the row with the same code. redeemed_count is never touched here.
func (r *repository) SaveCoupon(ctx context.Context, coupon *models.Coupon) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"stripe_discount_id", "active", "expires_at", "max_redemptions", "updated_at"}),
		}).
		Create(coupon).Error
}

// IncrementCouponRedemptions bumps redeemed_count only while headroom remains
// and reports whether the row was updated.
func (r *repository) IncrementCouponRedemptions(ctx context.Context, couponID uuid.UUID) (bool, error) {
	return repo.TouchedOne(r.DB(ctx).
		Model(&models.Coupon{}).
		Where("id = ?", couponID).
		Where("max_redemptions IS NULL OR redeemed_count < max_redemptions").
		Updates(map[string]any{
			"redeemed_count": gorm.Expr("redeemed_count + 1"),
			"updated_at":     time.Now().UTC(),
		}))
}

func (r *repository) FindCustomerByUser(ctx context.Context, userID uuid.UUID) (*models.StripeCustomer, error) {
	return repo.FindOne[models.StripeCustomer](r.DB(ctx), "user_id = ?", userID)
}

func (r *repository) FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.StripeCustomer, error) {
	if stripeCustomerID == "" {
		return nil, nil
	}
	return repo.FindOne[models.StripeCustomer](r.DB(ctx), "stripe_customer_id = ?", stripeCustomerID)
}

func (r *repository) UpsertCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stripe_customer_id", "updated_at"}),
		}).
		Create(&models.StripeCustomer{UserID: userID, StripeCustomerID: stripeCustomerID}).Error
}

func (r *repository) FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return repo.FindOne[models.Subscription](r.DB(ctx), "user_id = ?", userID)
}

// UpsertSubscription writes the user's single subscription row. The caller
// sets UpdatedAt; it is what the refresh window is measured against.
func (r *repository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stripe_subscription_id", "price_id", "status", "cancel_at_period_end", "current_period_end", "updated_at"}),
		}).
		Create(sub).Error
}

// MarkEventProcessed records the event id and reports whether this call
// inserted it. Concurrent duplicates collapse on the primary key.
func (r *repository) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	return repo.TouchedOne(r.DB(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.StripeEvent{EventID: eventID, EventType: eventType}))
}

// EventRecorded reports whether the event id is already in the ledger.
func (r *repository) EventRecorded(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.StripeEvent{}).Where("event_id = ?", eventID).Count(&count).Error
	return count > 0, err
}
