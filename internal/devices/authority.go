package devices

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meetlessons-backend/internal/entitlements"
	"github.com/angelmondragon/meetlessons-backend/pkg/db"
	"github.com/angelmondragon/meetlessons-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meetlessons-backend/pkg/errors"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	"github.com/angelmondragon/meetlessons-backend/pkg/metrics"
	"github.com/angelmondragon/meetlessons-backend/pkg/security"
)

const (
	DefaultLabel        = "Desktop App"
	MaxLabelLength      = 255
	defaultPairingTTL   = 10 * time.Minute
	codeGenerationTries = 3

	revokeReasonManual  = "manual"
	revokeReasonCascade = "cascade"

	pairOutcomeMissing   = "missing"
	pairOutcomeInvalid   = "invalid"
	pairOutcomeGone      = "gone"
	pairOutcomeForbidden = "forbidden"
	pairOutcomeSuccess   = "success"
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type AuthorityParams struct {
	Repo           Repository
	Tx             TxRunner
	Entitlements   entitlements.Decider
	Settings       entitlements.SettingsSource
	Hasher         security.TokenHasher
	PairingCodeTTL time.Duration
	Logger         *logger.Logger
	Metrics        *metrics.BillingMetrics
	Now            func() time.Time
}

// Authority issues and verifies device tokens, manages pairing codes and
// revokes devices when their owner loses access.
type Authority struct {
	repo       Repository
	tx         TxRunner
	decider    entitlements.Decider
	settings   entitlements.SettingsSource
	hasher     security.TokenHasher
	pairingTTL time.Duration
	logg       *logger.Logger
	metrics    *metrics.BillingMetrics
	now        func() time.Time
}

func NewAuthority(params AuthorityParams) (*Authority, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "device repo required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement resolver required")
	}
	ttl := params.PairingCodeTTL
	if ttl <= 0 {
		ttl = defaultPairingTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Authority{
		repo:       params.Repo,
		tx:         params.Tx,
		decider:    params.Entitlements,
		settings:   params.Settings,
		hasher:     params.Hasher,
		pairingTTL: ttl,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        now,
	}, nil
}

// PairResult is returned once; the token is never recoverable afterwards.
type PairResult struct {
	DeviceID uuid.UUID
	Token    string
}

// Dashboard is the account view of a user's devices.
type Dashboard struct {
	BillingEnforced    bool
	SubscriptionActive bool
	AutoRevokedCount   int
	Devices            []models.Device
	ActiveCode         *models.PairingCode
}

// Issue rotates the device secret and returns the new bearer token.
func (a *Authority) Issue(ctx context.Context, device *models.Device) (string, error) {
	return a.issue(ctx, a.repo, device)
}

func (a *Authority) issue(ctx context.Context, repo Repository, device *models.Device) (string, error) {
	if device == nil || device.ID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "device required")
	}
	secret, err := security.NewDeviceSecret()
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate device token")
	}
	hash := a.hasher.Hash(secret)
	if err := repo.SetTokenHash(ctx, device.ID, hash); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store device token")
	}
	device.TokenHash = hash
	return security.FormatDeviceToken(device.ID, secret), nil
}

// Verify resolves a bearer token to an active device. Unknown, malformed,
// revoked or mismatched tokens yield nil, nil; only store failures error.
func (a *Authority) Verify(ctx context.Context, token string) (*models.Device, error) {
	deviceID, secret, err := security.ParseDeviceToken(token)
	if err != nil {
		return nil, nil
	}
	device, err := a.repo.FindDevice(ctx, deviceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	if device == nil || !device.IsActive() {
		return nil, nil
	}
	if !a.hasher.Matches(secret, device.TokenHash) {
		return nil, nil
	}
	seen := a.now().UTC()
	if err := a.repo.TouchLastSeen(ctx, device.ID, seen); err != nil {
		a.logg.Warn(ctx, "failed to update device last_seen_at")
	} else {
		device.LastSeenAt = &seen
	}
	return device, nil
}

// Revoke revokes a device owned by userID. Revoking an already revoked
// device succeeds and keeps the original timestamp.
func (a *Authority) Revoke(ctx context.Context, userID, deviceID uuid.UUID) (*models.Device, error) {
	device, err := a.repo.FindDevice(ctx, deviceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	if device == nil || device.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
	}
	if !device.IsActive() {
		return device, nil
	}
	at := a.now().UTC()
	revoked, err := a.repo.RevokeDevice(ctx, device.ID, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke device")
	}
	if revoked {
		device.RevokedAt = &at
		a.metrics.AddDevicesRevoked(revokeReasonManual, 1)
		return device, nil
	}
	return a.repo.FindDevice(ctx, device.ID)
}

// CascadeRevokeIfUnentitled revokes every active device and expires every
// valid pairing code of an unentitled user. It returns the devices revoked.
// When entitlement cannot be decided nothing is revoked and a dependency
// error is returned.
func (a *Authority) CascadeRevokeIfUnentitled(ctx context.Context, userID uuid.UUID) (int, error) {
	entitled, err := a.resolve(ctx, userID)
	if err != nil || entitled {
		return 0, err
	}
	return a.RevokeAllForUser(ctx, userID)
}

func (a *Authority) resolve(ctx context.Context, userID uuid.UUID) (bool, error) {
	entitled, err := a.decider.Resolve(ctx, userID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve entitlement")
	}
	return entitled, nil
}

// RevokeAllForUser revokes without checking entitlement; callers have
// already decided the user is unentitled.
func (a *Authority) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	at := a.now().UTC()
	var revoked int64
	err := a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)
		n, err := repo.RevokeActiveDevices(ctx, userID, at)
		if err != nil {
			return err
		}
		revoked = n
		_, err = repo.ExpireValidPairingCodes(ctx, userID, at)
		return err
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke devices")
	}
	if revoked > 0 {
		a.metrics.AddDevicesRevoked(revokeReasonCascade, int(revoked))
		logCtx := a.logg.WithFields(ctx, map[string]any{"user_id": userID.String(), "revoked": revoked})
		a.logg.Info(logCtx, "revoked devices after entitlement loss")
	}
	return int(revoked), nil
}

// GenerateCode replaces any valid pairing code of an entitled user with a
// new one. An unentitled user's devices and codes are revoked instead.
func (a *Authority) GenerateCode(ctx context.Context, userID uuid.UUID) (*models.PairingCode, error) {
	entitled, err := a.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !entitled {
		if _, err := a.RevokeAllForUser(ctx, userID); err != nil {
			a.logg.Error(ctx, "failed to revoke devices during code generation", err)
		}
		return nil, errSubscriptionRequired()
	}

	var lastErr error
	for attempt := 0; attempt < codeGenerationTries; attempt++ {
		value, err := security.NewPairingCode()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate pairing code")
		}
		now := a.now().UTC()
		code := &models.PairingCode{
			Code:      value,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(a.pairingTTL),
		}
		err = a.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := a.repo.WithTx(tx)
			if _, err := repo.ExpireValidPairingCodes(ctx, userID, now); err != nil {
				return err
			}
			return repo.CreatePairingCode(ctx, code)
		})
		if err == nil {
			return code, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pairing code")
		}
		lastErr = err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, lastErr, "pairing code collision")
}

// Redeem exchanges a pairing code for a new device and its token.
func (a *Authority) Redeem(ctx context.Context, rawCode, rawLabel string) (*PairResult, error) {
	value := NormalizeCode(rawCode)
	if value == "" {
		a.metrics.IncPairingAttempt(pairOutcomeMissing)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Missing pairing code")
	}

	code, err := a.repo.FindPairingCode(ctx, value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pairing code")
	}
	if code == nil {
		a.metrics.IncPairingAttempt(pairOutcomeInvalid)
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Invalid pairing code")
	}
	if !code.IsValid(a.now()) {
		a.metrics.IncPairingAttempt(pairOutcomeGone)
		return nil, errCodeGone()
	}

	entitled, err := a.resolve(ctx, code.UserID)
	if err != nil {
		return nil, err
	}
	if !entitled {
		if _, err := a.RevokeAllForUser(ctx, code.UserID); err != nil {
			a.logg.Error(ctx, "failed to revoke devices during pairing", err)
		}
		a.metrics.IncPairingAttempt(pairOutcomeForbidden)
		return nil, errSubscriptionRequired()
	}

	device := &models.Device{
		ID:     uuid.New(),
		UserID: code.UserID,
		Label:  NormalizeLabel(rawLabel),
	}
	var token string
	err = a.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)
		consumed, err := repo.ConsumePairingCode(ctx, code.ID, a.now().UTC())
		if err != nil {
			return err
		}
		if !consumed {
			return errCodeGone()
		}
		if err := repo.CreateDevice(ctx, device); err != nil {
			return err
		}
		token, err = a.issue(ctx, repo, device)
		return err
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeGone) {
			a.metrics.IncPairingAttempt(pairOutcomeGone)
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pair device")
	}

	a.metrics.IncPairingAttempt(pairOutcomeSuccess)
	return &PairResult{DeviceID: device.ID, Token: token}, nil
}

// Dashboard lists a user's devices. Unentitled users under enforced billing
// lose their devices and valid codes first; the active code is only shown
// to entitled users.
func (a *Authority) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	enforced := false
	if a.settings != nil {
		settings, err := a.settings.Load(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing settings")
		}
		enforced = settings.Enabled()
	}
	entitled, err := a.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &Dashboard{BillingEnforced: enforced, SubscriptionActive: entitled}
	if enforced && !entitled {
		n, err := a.RevokeAllForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		view.AutoRevokedCount = n
	}

	devices, err := a.repo.ListDevicesByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list devices")
	}
	view.Devices = devices

	if entitled {
		code, err := a.repo.FindActivePairingCode(ctx, userID, a.now().UTC())
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pairing code")
		}
		view.ActiveCode = code
	}
	return view, nil
}

func errSubscriptionRequired() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "Subscription required")
}

func errCodeGone() *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeGone, "Pairing code expired or already used")
}

// NormalizeCode trims and upper-cases user input.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeLabel trims the label, defaults it and caps it at 255 characters.
func NormalizeLabel(raw string) string {
	label := strings.TrimSpace(raw)
	if label == "" {
		return DefaultLabel
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		runes := []rune(label)
		label = strings.TrimSpace(string(runes[:MaxLabelLength]))
	}
	return label
}
