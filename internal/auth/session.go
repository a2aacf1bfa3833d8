// Package auth issues role sessions, checks the shared passwords and holds
// the admin's linked Google Drive grant.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

var (
	ErrNoSession      = errors.New("no session token")
	ErrInvalidSession = errors.New("invalid session token")
)

// Claims is the payload of a session token. SessionID identifies one login
// and is used as the admin identity for notification dismissal.
type Claims struct {
	Role      model.Role `json:"role"`
	SessionID string     `json:"sid"`
	jwt.RegisteredClaims
}

// SessionManager signs and verifies HS256 role tokens.
type SessionManager struct {
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

// NewSessionManager creates a SessionManager. secure controls the Secure
// attribute of the cookie and should only be false for plain-HTTP dev servers.
func NewSessionManager(secret string, ttl time.Duration, cookieName string, secure bool) *SessionManager {
	return &SessionManager{
		secret:     []byte(secret),
		ttl:        ttl,
		cookieName: cookieName,
		secure:     secure,
		now:        time.Now,
	}
}

// CookieName returns the name of the session cookie.
func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// Issue signs a new token for role.
func (m *SessionManager) Issue(role model.Role) (string, *Claims, error) {
	if !role.Valid() {
		return "", nil, fmt.Errorf("unknown role %q", role)
	}
	now := m.now()
	claims := &Claims{
		Role:      role,
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, claims, nil
}

// Verify parses token and returns its claims.
func (m *SessionManager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSession, claims.Role)
	}
	return claims, nil
}

// Cookie returns the Set-Cookie value carrying token.
func (m *SessionManager) Cookie(token string) string {
	return m.cookie(token, int(m.ttl.Seconds()))
}

// ClearCookie returns a Set-Cookie value that removes the session.
func (m *SessionManager) ClearCookie() string {
	return m.cookie("", -1)
}

func (m *SessionManager) cookie(value string, maxAge int) string {
	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}
