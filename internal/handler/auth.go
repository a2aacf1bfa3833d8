package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

const (
	stateCookieName = "oauth_state"
	stateCookieAge  = 600
)

// OAuthFlow is the admin Drive consent flow.
type OAuthFlow interface {
	GenerateAuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	FetchEmail(ctx context.Context, token *oauth2.Token) (string, error)
	SaveAdminToken(ctx context.Context, token *oauth2.Token, email string) error
}

// ConfigUpdater applies a read-modify-write to the portal configuration.
type ConfigUpdater interface {
	UpdateConfig(ctx context.Context, fn func(*model.PortalConfig) error) (*model.PortalConfig, int64, error)
}

// AuthHandler handles login, logout and the admin Drive consent flow.
type AuthHandler struct {
	sessions  *auth.SessionManager
	passwords *auth.PasswordAuthenticator
	oauth     OAuthFlow
	store     ConfigUpdater
	secure    bool
}

// NewAuthHandler creates a new AuthHandler. secure sets the Secure attribute
// on the OAuth state cookie.
func NewAuthHandler(sessions *auth.SessionManager, passwords *auth.PasswordAuthenticator, oauth OAuthFlow, store ConfigUpdater, secure bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, passwords: passwords, oauth: oauth, store: store, secure: secure}
}

// safeRedirect keeps post-login redirects on this site.
func safeRedirect(from string) string {
	if !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return "/"
	}
	return from
}

// Login checks the shared password and starts a session for its role.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	f, err := parseForm(req, 0)
	if err != nil {
		return redirect("/login?error=missing_password"), nil
	}

	role, err := h.passwords.Authenticate(f.values["password"])
	switch {
	case errors.Is(err, auth.ErrMissingPassword):
		return redirect("/login?error=missing_password"), nil
	case errors.Is(err, auth.ErrThrottled):
		return errorResponse(err), nil
	case errors.Is(err, auth.ErrLoginDisabled):
		log.Warn("login attempted but portal or admin password is not configured")
		return redirect("/login?error=badpass"), nil
	case err != nil:
		log.Info("login rejected")
		return redirect("/login?error=badpass"), nil
	}

	token, claims, err := h.sessions.Issue(role)
	if err != nil {
		return errorResponse(err), nil
	}
	log.WithFields(log.Fields{"role": role, "sid": claims.SessionID}).Info("session started")
	return redirect(safeRedirect(f.value("from")), h.sessions.Cookie(token)), nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return redirect("/login", h.sessions.ClearCookie()), nil
}

// Session describes the caller's session.
func (h *AuthHandler) Session(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := RequireRole(req, h.sessions, model.RoleUser)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"role":      claims.Role,
		"sessionId": claims.SessionID,
		"expiresAt": claims.ExpiresAt.Time,
	}), nil
}

func (h *AuthHandler) stateCookie(value string, maxAge int) string {
	c := &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
	return c.String()
}

// Google redirects an admin to the Google consent screen.
func (h *AuthHandler) Google(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	state := uuid.NewString()
	return redirect(h.oauth.GenerateAuthURL(state), h.stateCookie(state, stateCookieAge)), nil
}

// Callback finishes the consent flow: it stores the admin's grant and marks
// Drive as configured.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	clearState := h.stateCookie("", -1)
	fail := func(reason string) events.APIGatewayProxyResponse {
		return redirect("/login?error="+url.QueryEscape(reason), clearState)
	}

	q := req.QueryStringParameters
	if e := q["error"]; e != "" {
		return fail(e), nil
	}
	code := q["code"]
	if code == "" {
		return fail("missing_code"), nil
	}
	state := Cookie(req, stateCookieName)
	if state == "" || q["state"] != state {
		log.Warn("oauth callback state mismatch")
		return fail("invalid_state"), nil
	}

	token, err := h.oauth.ExchangeCode(ctx, code)
	if err != nil {
		log.WithError(err).Error("failed to exchange oauth code")
		return fail("exchange_failed"), nil
	}
	email, err := h.oauth.FetchEmail(ctx, token)
	if err != nil {
		log.WithError(err).Warn("failed to read admin email")
	}
	if err := h.oauth.SaveAdminToken(ctx, token, email); err != nil {
		log.WithError(err).Error("failed to store admin token")
		return fail("token_store_failed"), nil
	}

	// Folder ids cached for a previous account may not be visible to this one.
	_, _, err = h.store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		d := cfg.Drive()
		d.IsConfigured = true
		d.RootFolderID = ""
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("failed to mark drive as configured")
	}
	log.WithField("email", email).Info("admin drive account linked")
	return redirect("/admin", clearState), nil
}
