// Package pairing issues the short-lived tokens that pair a phone's sensor
// stream with the dashboards watching the same device.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// Role says which side of a pairing a token authorises.
type Role string

const (
	RoleDashboard Role = "dashboard"
	RoleSensor    Role = "sensor"
)

const issuer = "twinhub"

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or
	// claim checks.
	ErrInvalidToken = errors.New("invalid pairing token")
	// ErrInvalidDeviceID is returned for device IDs that cannot be used as
	// an MQTT topic level.
	ErrInvalidDeviceID = errors.New("device_id must be 1-64 characters of [A-Za-z0-9_-]")
)

// ValidDeviceID reports whether id can name a device.
func ValidDeviceID(id string) bool {
	return telemetry.ValidDeviceID(id)
}

// Claims holds the JWT payload of a pairing token.
type Claims struct {
	jwt.RegisteredClaims
	DeviceID string `json:"did"`
	Role     Role   `json:"role"`
}

// TokenService signs and validates pairing tokens with HS256.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given signing secret and
// token lifetime.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	return &TokenService{secret: secret, ttl: ttl, now: time.Now}
}

// RandomSecret returns a fresh 32-byte signing secret. Tokens signed with it
// do not survive a restart.
func RandomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate pairing secret: %w", err)
	}
	return b, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// DeviceFromRequest validates the bearer token of r for role and returns
// its device. A request without an Authorization header yields "" and no
// error.
func (s *TokenService) DeviceFromRequest(r *http.Request, role Role) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrInvalidToken
	}
	claims, err := s.Validate(token, role)
	if err != nil {
		return "", err
	}
	return claims.DeviceID, nil
}

// Issue signs a token for one device and role.
func (s *TokenService) Issue(deviceID string, role Role) (string, time.Time, error) {
	if !ValidDeviceID(deviceID) {
		return "", time.Time{}, ErrInvalidDeviceID
	}
	if role != RoleDashboard && role != RoleSensor {
		return "", time.Time{}, fmt.Errorf("unknown pairing role %q", role)
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   deviceID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		DeviceID: deviceID,
		Role:     role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign pairing token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses a token and checks that it was issued for role.
func (s *TokenService) Validate(tokenString string, role Role) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != role {
		return nil, fmt.Errorf("%w: issued for %s, not %s", ErrInvalidToken, claims.Role, role)
	}
	if !ValidDeviceID(claims.DeviceID) {
		return nil, fmt.Errorf("%w: bad device_id", ErrInvalidToken)
	}
	return claims, nil
}
