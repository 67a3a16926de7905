package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	deviceSecretBytes = 32
	pairingCodeBytes  = 4
	tokenSeparator    = ":"
)

// ErrMalformedDeviceToken signals a token that is not "<device_id>:<secret>".
var ErrMalformedDeviceToken = errors.New("malformed device token")

// NewDeviceSecret returns 32 random bytes encoded as unpadded base64url.
func NewDeviceSecret() (string, error) {
	buf := make([]byte, deviceSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewPairingCode returns eight upper-case hex characters.
func NewPairingCode() (string, error) {
	buf := make([]byte, pairingCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// FormatDeviceToken joins the device id and secret into the bearer token.
func FormatDeviceToken(deviceID uuid.UUID, secret string) string {
	return deviceID.String() + tokenSeparator + secret
}

// ParseDeviceToken splits a bearer token into device id and secret.
func ParseDeviceToken(raw string) (uuid.UUID, string, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(raw), tokenSeparator)
	if !ok || secret == "" {
		return uuid.Nil, "", ErrMalformedDeviceToken
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", ErrMalformedDeviceToken
	}
	return id, secret, nil
}

// TokenHasher digests device secrets for storage. With a pepper the digest
// is HMAC-SHA256, otherwise plain SHA-256; both are hex encoded.
type TokenHasher struct {
	pepper []byte
}

func NewTokenHasher(pepper string) TokenHasher {
	pepper = strings.TrimSpace(pepper)
	if pepper == "" {
		return TokenHasher{}
	}
	return TokenHasher{pepper: []byte(pepper)}
}

// Hash returns the hex digest of secret.
func (h TokenHasher) Hash(secret string) string {
	if len(h.pepper) == 0 {
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares the digest of secret against stored in constant time.
func (h TokenHasher) Matches(secret, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h.Hash(secret)), []byte(stored)) == 1
}
