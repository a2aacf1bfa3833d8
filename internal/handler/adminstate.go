package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/changelog"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// AdminStateStore holds which release notes the admins acknowledged.
type AdminStateStore interface {
	ReadAdminState(ctx context.Context) (*model.AdminState, int64, error)
	DismissVersion(ctx context.Context, version string) (*model.AdminState, error)
}

// AdminStateHandler serves release notes the admins have not seen.
type AdminStateHandler struct {
	sessions *auth.SessionManager
	store    AdminStateStore
	log      *changelog.Changelog
}

// NewAdminStateHandler creates a new AdminStateHandler.
func NewAdminStateHandler(sessions *auth.SessionManager, store AdminStateStore, cl *changelog.Changelog) *AdminStateHandler {
	return &AdminStateHandler{sessions: sessions, store: store, log: cl}
}

// Get returns the dismissal state with unseen and recent releases.
func (h *AdminStateHandler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	state, _, err := h.store.ReadAdminState(ctx)
	if err != nil {
		return errorResponse(err), nil
	}
	current := h.log.Current()
	unseen := h.log.Unseen(state.LastDismissedVersion, current)
	return jsonResponse(http.StatusOK, map[string]any{
		"state":          state,
		"currentVersion": current,
		"unseenVersions": h.log.Notices(unseen, 5),
		"recentVersions": h.log.Notices(h.log.Recent(3), 3),
		"hasUnseen":      len(unseen) > 0,
	}), nil
}

// Post handles {"action":"dismiss","version":"x.y.z"}; version defaults to
// the running release.
func (h *AdminStateHandler) Post(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	var payload struct {
		Action  string `json:"action"`
		Version string `json:"version"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		return errorResponse(err), nil
	}
	if payload.Action != "dismiss" {
		return errorResponse(fmt.Errorf("%w: invalid action %q", errBadRequest, payload.Action)), nil
	}
	version := payload.Version
	if version == "" {
		version = h.log.Current()
	}
	if _, ok := changelog.ParseVersion(version); !ok {
		return errorResponse(fmt.Errorf("%w: invalid version %q", errBadRequest, version)), nil
	}
	if _, err := h.store.DismissVersion(ctx, version); err != nil {
		return errorResponse(err), nil
	}
	log.WithField("version", version).Info("release notes dismissed")
	return jsonResponse(http.StatusOK, map[string]any{
		"success": true,
		"message": "Dismissed version " + version,
	}), nil
}
