package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/time/rate"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

var (
	ErrMissingPassword = errors.New("missing password")
	ErrBadPassword     = errors.New("bad password")
	ErrLoginDisabled   = errors.New("portal or admin password not configured")
	ErrThrottled       = errors.New("too many login attempts")
)

// PasswordAuthenticator maps the shared portal and admin passwords to roles.
type PasswordAuthenticator struct {
	portal  []byte
	admin   []byte
	limiter *rate.Limiter
}

// NewPasswordAuthenticator creates an authenticator. Attempts are limited to
// perSecond with the given burst across all callers.
func NewPasswordAuthenticator(portal, admin string, perSecond float64, burst int) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		portal:  []byte(portal),
		admin:   []byte(admin),
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Authenticate returns the role granted by password. The admin password is
// checked first so an identical portal password never downgrades an admin.
func (a *PasswordAuthenticator) Authenticate(password string) (model.Role, error) {
	if password == "" {
		return "", ErrMissingPassword
	}
	if !a.limiter.Allow() {
		return "", ErrThrottled
	}
	if len(a.portal) == 0 || len(a.admin) == 0 {
		return "", ErrLoginDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), a.admin) == 1 {
		return model.RoleAdmin, nil
	}
	if subtle.ConstantTimeCompare([]byte(password), a.portal) == 1 {
		return model.RoleUser, nil
	}
	return "", ErrBadPassword
}
