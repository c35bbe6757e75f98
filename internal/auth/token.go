// Package auth issues and verifies the bearer tokens that carry a user's
// identity through the REST API and the chat channel. Tokens are stateless
// HS256 JWTs; access and refresh tokens differ only by lifetime and the
// "typ" claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/casasegura/backend/internal/domain"
)

var (
	// ErrInvalidToken covers malformed, forged or wrongly typed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	UserID string
	Role   domain.Role
}

// TokenPair is what login, register and refresh hand back to clients.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

type claims struct {
	Role domain.Role `json:"role"`
	Type string      `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and validates tokens with a shared secret.
type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewManager builds a Manager. secret must be non-empty.
func NewManager(secret, issuer string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Issue returns a fresh access/refresh pair for id.
func (m *Manager) Issue(id Identity) (TokenPair, error) {
	now := m.now()
	access, err := m.sign(id, typeAccess, now, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(id, typeRefresh, now, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(m.accessTTL),
		TokenType:    "Bearer",
	}, nil
}

// VerifyAccess validates an access token.
func (m *Manager) VerifyAccess(token string) (Identity, error) {
	return m.verify(token, typeAccess)
}

// VerifyRefresh validates a refresh token.
func (m *Manager) VerifyRefresh(token string) (Identity, error) {
	return m.verify(token, typeRefresh)
}

func (m *Manager) sign(id Identity, typ string, now time.Time, ttl time.Duration) (string, error) {
	c := claims{
		Role: id.Role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth.sign: %w", err)
	}
	return signed, nil
}

func (m *Manager) verify(token, typ string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}
	if !parsed.Valid || c.Type != typ || c.Subject == "" || !c.Role.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: c.Subject, Role: c.Role}, nil
}
