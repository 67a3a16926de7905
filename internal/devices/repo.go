package devices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meetlessons-backend/internal/repo"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
)

// Repository persists devices and pairing codes. Finders return nil, nil
// when the row does not exist.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateDevice(ctx context.Context, device *models.Device) error
	FindDevice(ctx context.Context, id uuid.UUID) (*models.Device, error)
	ListDevicesByUser(ctx context.Context, userID uuid.UUID) ([]models.Device, error)
	SetTokenHash(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeDevice(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RevokeActiveDevices(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)

	CreatePairingCode(ctx context.Context, code *models.PairingCode) error
	FindPairingCode(ctx context.Context, code string) (*models.PairingCode, error)
	FindActivePairingCode(ctx context.Context, userID uuid.UUID, now time.Time) (*models.PairingCode, error)
	ConsumePairingCode(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ExpireValidPairingCodes(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) CreateDevice(ctx context.Context, device *models.Device) error {
	return r.DB(ctx).Create(device).Error
}

func (r *repository) FindDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	return repo.FindOne[models.Device](r.DB(ctx), "id = ?", id)
}

func (r *repository) ListDevicesByUser(ctx context.Context, userID uuid.UUID) ([]models.Device, error) {
	var devices []models.Device
	if err := r.DB(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *repository) SetTokenHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.DB(ctx).
		Model(&models.Device{}).
		Where("id = ?", id).
		UpdateColumn("token_hash", hash).Error
}

func (r *repository) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB(ctx).
		Model(&models.Device{}).
		Where("id = ?", id).
		UpdateColumn("last_seen_at", at).Error
}

// RevokeDevice stamps revoked_at once; a second call leaves the first timestamp.
func (r *repository) RevokeDevice(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return repo.TouchedOne(r.DB(ctx).
		Model(&models.Device{}).
		Where("id = ? AND revoked_at IS NULL", id).
		UpdateColumn("revoked_at", at))
}

func (r *repository) RevokeActiveDevices(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Device{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		UpdateColumn("revoked_at", at)
	return res.RowsAffected, res.Error
}

func (r *repository) CreatePairingCode(ctx context.Context, code *models.PairingCode) error {
	return r.DB(ctx).Create(code).Error
}

func (r *repository) FindPairingCode(ctx context.Context, code string) (*models.PairingCode, error) {
	return repo.FindOne[models.PairingCode](r.DB(ctx), "code = ?", code)
}

func (r *repository) FindActivePairingCode(ctx context.Context, userID uuid.UUID, now time.Time) (*models.PairingCode, error) {
	return repo.FindOne[models.PairingCode](r.DB(ctx).
		Where("user_id = ? AND used_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at DESC"))
}

// ConsumePairingCode marks the code used only if it is still valid, so two
// concurrent redemptions cannot both succeed.
func (r *repository) ConsumePairingCode(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return repo.TouchedOne(r.DB(ctx).
		Model(&models.PairingCode{}).
		Where("id = ? AND used_at IS NULL AND expires_at > ?", id, now).
		UpdateColumn("used_at", now))
}

func (r *repository) ExpireValidPairingCodes(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.PairingCode{}).
		Where("user_id = ? AND used_at IS NULL AND expires_at > ?", userID, now).
		UpdateColumn("expires_at", now)
	return res.RowsAffected, res.Error
}
