package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// NotificationHandler lists and dismisses admin notifications.
type NotificationHandler struct {
	sessions *auth.SessionManager
	store    ConfigStore
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(sessions *auth.SessionManager, store ConfigStore) *NotificationHandler {
	return &NotificationHandler{sessions: sessions, store: store}
}

type notificationView struct {
	model.AdminNotification
	Dismissed bool `json:"dismissed"`
}

// List returns every notification with a flag for the caller's session.
func (h *NotificationHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := RequireRole(req, h.sessions, model.RoleAdmin)
	if err != nil {
		return errorResponse(err), nil
	}
	cfg, _, err := h.store.ReadConfig(ctx)
	if err != nil {
		return errorResponse(err), nil
	}
	out := make([]notificationView, 0, len(cfg.AdminNotifications))
	for _, n := range cfg.AdminNotifications {
		out = append(out, notificationView{AdminNotification: n, Dismissed: n.DismissedByAdmin(claims.SessionID)})
	}
	return jsonResponse(http.StatusOK, map[string]any{"notifications": out}), nil
}

// Dismiss marks a notification as seen by adminId, defaulting to the
// caller's session.
func (h *NotificationHandler) Dismiss(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := RequireRole(req, h.sessions, model.RoleAdmin)
	if err != nil {
		return errorResponse(err), nil
	}
	var payload struct {
		ID      string `json:"id"`
		AdminID string `json:"adminId"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		return errorResponse(err), nil
	}
	id := strings.TrimSpace(payload.ID)
	if id == "" {
		return errorResponse(fmt.Errorf("%w: id is required", errBadRequest)), nil
	}
	adminID := strings.TrimSpace(payload.AdminID)
	if adminID == "" {
		adminID = claims.SessionID
	}

	_, _, err = h.store.UpdateConfig(ctx, func(cfg *model.PortalConfig) error {
		for i := range cfg.AdminNotifications {
			n := &cfg.AdminNotifications[i]
			if n.ID != id {
				continue
			}
			if !n.DismissedByAdmin(adminID) {
				n.DismissedBy = append(n.DismissedBy, adminID)
			}
			return nil
		}
		return fmt.Errorf("%w: notification %q", errNotFound, id)
	})
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"success": true}), nil
}
