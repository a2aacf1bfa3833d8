package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// ConfigStore is the configuration document store.
type ConfigStore interface {
	ConfigUpdater
	ReadConfig(ctx context.Context) (*model.PortalConfig, int64, error)
	WriteConfig(ctx context.Context, cfg *model.PortalConfig, expected int64) (int64, error)
	ResetConfig(ctx context.Context) error
}

// ConfigHandler serves the portal configuration and Drive diagnostics.
type ConfigHandler struct {
	sessions        *auth.SessionManager
	store           ConfigStore
	provider        adapter.Provider
	defaultRootName string
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(sessions *auth.SessionManager, store ConfigStore, provider adapter.Provider, defaultRootName string) *ConfigHandler {
	return &ConfigHandler{sessions: sessions, store: store, provider: provider, defaultRootName: defaultRootName}
}

type adminConfig struct {
	*model.PortalConfig
	Revision int64 `json:"revision"`
}

// GetConfig returns the full document to admins and only the visible
// entries to users.
func (h *ConfigHandler) GetConfig(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	claims, err := RequireRole(req, h.sessions, model.RoleUser)
	if err != nil {
		return errorResponse(err), nil
	}
	cfg, rev, err := h.store.ReadConfig(ctx)
	if err != nil {
		return errorResponse(err), nil
	}
	if claims.Role != model.RoleAdmin {
		return jsonResponse(http.StatusOK, cfg.Visible()), nil
	}
	if cfg.DriveSettings == nil {
		cfg.DriveSettings = &model.DriveSettings{RootFolderName: h.defaultRootName}
	}
	return jsonResponse(http.StatusOK, adminConfig{PortalConfig: cfg, Revision: rev}), nil
}

// entryList accepts entries as objects or as bare names.
type entryList []model.Entry

func (l *entryList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(entryList, 0, len(raw))
	for _, r := range raw {
		var name string
		if err := json.Unmarshal(r, &name); err == nil {
			out = append(out, model.Entry{Name: name})
			continue
		}
		var e model.Entry
		if err := json.Unmarshal(r, &e); err != nil {
			return err
		}
		out = append(out, e)
	}
	*l = out
	return nil
}

type putConfigRequest struct {
	Clients       *entryList `json:"clients"`
	Campaigns     *entryList `json:"campaigns"`
	Publications  *entryList `json:"publications"`
	DriveSettings *struct {
		ParentFolderURL *string `json:"parentFolderUrl"`
		RootFolderName  *string `json:"rootFolderName"`
	} `json:"driveSettings"`
	Revision *int64 `json:"revision"`
}

func validateEntries(kind string, entries entryList) ([]model.Entry, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			return nil, fmt.Errorf("%w: empty %s name", errBadRequest, kind)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: duplicate %s %q", errBadRequest, kind, e.Name)
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	return out, nil
}

// apply validates p and copies it onto cfg.
func (p *putConfigRequest) apply(cfg *model.PortalConfig) error {
	if p.Clients == nil || p.Campaigns == nil || p.Publications == nil {
		return fmt.Errorf("%w: clients, campaigns and publications are required", errBadRequest)
	}
	clients, err := validateEntries("client", *p.Clients)
	if err != nil {
		return err
	}
	campaigns, err := validateEntries("campaign", *p.Campaigns)
	if err != nil {
		return err
	}
	publications, err := validateEntries("publication", *p.Publications)
	if err != nil {
		return err
	}
	cfg.Clients, cfg.Campaigns, cfg.Publications = clients, campaigns, publications

	if ds := p.DriveSettings; ds != nil {
		d := cfg.Drive()
		if ds.ParentFolderURL != nil {
			u := strings.TrimSpace(*ds.ParentFolderURL)
			if u != "" {
				if _, err := folder.ParseFolderID(u); err != nil {
					return err
				}
			}
			if u != d.ParentFolderURL {
				// The cached root belonged to the old link.
				d.ParentFolderURL = u
				d.RootFolderID = ""
				d.RootFolderName = ""
			}
		}
		if ds.RootFolderName != nil && d.ParentFolderURL == "" {
			name := strings.TrimSpace(*ds.RootFolderName)
			if name != d.RootFolderName {
				d.RootFolderName = name
				d.RootFolderID = ""
			}
		}
	}
	return nil
}

// PutConfig replaces the entry lists and Drive settings. With a revision the
// write fails on conflict; without one it is retried against the newest copy.
func (h *ConfigHandler) PutConfig(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	var payload putConfigRequest
	if err := decodeJSON(req, &payload); err != nil {
		return errorResponse(err), nil
	}

	var rev int64
	if payload.Revision != nil {
		cfg, current, err := h.store.ReadConfig(ctx)
		if err != nil {
			return errorResponse(err), nil
		}
		if current != *payload.Revision {
			return errorResponse(fmt.Errorf("%w: revision %d is stale, current is %d", configstore.ErrConflict, *payload.Revision, current)), nil
		}
		if err := payload.apply(cfg); err != nil {
			return errorResponse(err), nil
		}
		rev, err = h.store.WriteConfig(ctx, cfg, current)
		if err != nil {
			return errorResponse(err), nil
		}
	} else {
		var err error
		_, rev, err = h.store.UpdateConfig(ctx, payload.apply)
		if err != nil {
			return errorResponse(err), nil
		}
	}
	log.WithField("revision", rev).Info("config updated")
	return jsonResponse(http.StatusOK, map[string]any{"ok": true, "revision": rev}), nil
}

// ResetConfig empties the configuration.
func (h *ConfigHandler) ResetConfig(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	if err := h.store.ResetConfig(ctx); err != nil {
		return errorResponse(err), nil
	}
	log.Warn("config reset")
	return jsonResponse(http.StatusOK, map[string]any{"ok": true}), nil
}

// VerifyFolder reports whether the Drive identity can use a folder.
func (h *ConfigHandler) VerifyFolder(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleAdmin); err != nil {
		return errorResponse(err), nil
	}
	target := strings.TrimSpace(req.QueryStringParameters["id"])
	if target == "" {
		target = strings.TrimSpace(req.QueryStringParameters["url"])
	}
	if target == "" {
		return errorResponse(fmt.Errorf("%w: id or url is required", errBadRequest)), nil
	}
	d, err := h.provider.GetDrive(ctx)
	if err != nil {
		return errorResponse(err), nil
	}
	v, err := folder.VerifyFolder(ctx, d, target)
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, v), nil
}

// UserEmail returns the Google account uploads are made as.
func (h *ConfigHandler) UserEmail(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := RequireRole(req, h.sessions, model.RoleUser); err != nil {
		return errorResponse(err), nil
	}
	email, err := h.provider.Identity(ctx)
	if errors.Is(err, adapter.ErrNotFound) {
		return errorResponse(fmt.Errorf("%w: user email not available", errNotFound)), nil
	}
	if err != nil {
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]string{"email": email}), nil
}
