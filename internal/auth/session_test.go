package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

func TestSessionManager_IssueAndVerify(t *testing.T) {
	m := NewSessionManager("test-secret", 24*time.Hour, "session", true)

	token, issued, err := m.Issue(model.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, issued.SessionID)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, issued.SessionID, claims.SessionID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestSessionManager_RejectsWrongSecret(t *testing.T) {
	token, _, err := NewSessionManager("a", time.Hour, "session", true).Issue(model.RoleUser)
	require.NoError(t, err)

	_, err = NewSessionManager("b", time.Hour, "session", true).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionManager_RejectsExpired(t *testing.T) {
	m := NewSessionManager("s", time.Hour, "session", true)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue(model.RoleUser)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionManager_RejectsUnknownRole(t *testing.T) {
	m := NewSessionManager("s", time.Hour, "session", true)
	_, _, err := m.Issue(model.Role("root"))
	assert.Error(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "root",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = m.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionManager_RejectsMissingExpiry(t *testing.T) {
	m := NewSessionManager("s", time.Hour, "session", true)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}).SignedString([]byte("s"))
	require.NoError(t, err)
	_, err = m.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionManager_EmptyToken(t *testing.T) {
	m := NewSessionManager("s", time.Hour, "session", true)
	_, err := m.Verify("")
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestSessionManager_Cookies(t *testing.T) {
	m := NewSessionManager("s", 24*time.Hour, "session", true)
	c := m.Cookie("tok")
	for _, want := range []string{"session=tok", "Path=/", "Max-Age=86400", "HttpOnly", "Secure", "SameSite=Lax"} {
		assert.Contains(t, c, want)
	}

	cleared := m.ClearCookie()
	assert.True(t, strings.HasPrefix(cleared, "session=;"), cleared)
	assert.Contains(t, cleared, "Max-Age=0")

	insecure := NewSessionManager("s", time.Hour, "session", false).Cookie("tok")
	assert.NotContains(t, insecure, "Secure")
}
