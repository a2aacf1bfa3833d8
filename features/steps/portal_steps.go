//go:build integration

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter/memory"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/app"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/changelog"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/crypto"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/lock"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/markdown"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/retry"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

const rootName = "JJA eTearsheets"

var portalLimits = upload.Limits{SimpleMaxBytes: 64, ChunkMaxBytes: 64, ChunkSizeBytes: 32}

// portalWorld is the state shared by the steps of one scenario.
type portalWorld struct {
	services *app.Services
	drive    *memory.Drive
	router   http.Handler
	cookie   *http.Cookie
	resp     *httptest.ResponseRecorder
}

var world *portalWorld

func InitializePortalScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		world = nil
		return c, nil
	})

	ctx.Step(`^the portal is running with portal password "([^"]*)" and admin password "([^"]*)"$`, thePortalIsRunning)
	ctx.Step(`^the configuration lists client "([^"]*)", campaign "([^"]*)" and publication "([^"]*)"$`, theConfigurationLists)
	ctx.Step(`^I am logged in with password "([^"]*)"$`, iAmLoggedInWithPassword)
	ctx.Step(`^the response status should be (\d+)$`, theResponseStatusShouldBe)
	ctx.Step(`^the error code should be "([^"]*)"$`, theErrorCodeShouldBe)
}

func thePortalIsRunning(portalPassword, adminPassword string) error {
	gin.SetMode(gin.TestMode)

	store := configstore.NewStore(configstore.NewMemoryBackend(), "config/portal", "admin-state/state")
	d := memory.NewDrive()
	provider := &adapter.StaticProvider{Drive: d, Email: "uploads@example.com"}
	resolver := folder.NewResolver(store, lock.NewMemoryLocker(), rootName, time.Second)
	oauthCfg := &oauth2.Config{ClientID: "test-client", RedirectURL: "http://localhost:8080/api/auth/callback"}

	world = &portalWorld{
		services: &app.Services{
			Sessions:        auth.NewSessionManager("feature-secret", time.Hour, "session", false),
			Passwords:       auth.NewPasswordAuthenticator(portalPassword, adminPassword, 100, 100),
			OAuth:           auth.NewAuthService(oauthCfg, nil, "AdminTokens", crypto.NewMockEncryptor()),
			Store:           store,
			Provider:        provider,
			Resolver:        resolver,
			Uploads:         upload.NewService(provider, resolver, retry.Policy{Attempts: 2, BaseDelay: time.Millisecond}, portalLimits, time.UTC),
			Changelog:       changelog.Load(markdown.NewRenderer()),
			DefaultRootName: rootName,
			FrontendURL:     "http://localhost:3000",
			DevMode:         true,
		},
		drive: d,
	}
	world.router = app.New(world.services).Router()
	return nil
}

func theConfigurationLists(client, campaign, publication string) error {
	_, _, err := world.services.Store.UpdateConfig(context.Background(), func(cfg *model.PortalConfig) error {
		cfg.Clients = append(cfg.Clients, model.Entry{Name: client})
		cfg.Campaigns = append(cfg.Campaigns, model.Entry{Name: campaign})
		cfg.Publications = append(cfg.Publications, model.Entry{Name: publication})
		return nil
	})
	return err
}

// do sends a request through the local router with the session cookie, if any.
func (w *portalWorld) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if w.cookie != nil {
		req.AddCookie(w.cookie)
	}
	rec := httptest.NewRecorder()
	w.router.ServeHTTP(rec, req)
	w.resp = rec
	return rec
}

func (w *portalWorld) doJSON(method, path string, v any) (*httptest.ResponseRecorder, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return w.do(method, path, "application/json", strings.NewReader(string(b))), nil
}

func iAmLoggedInWithPassword(password string) error {
	form := url.Values{"password": {password}}
	rec := world.do("POST", "/api/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if rec.Code != http.StatusFound {
		return fmt.Errorf("login returned %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); strings.Contains(loc, "error=") {
		return fmt.Errorf("login rejected: %s", loc)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			world.cookie = c
			return nil
		}
	}
	return fmt.Errorf("login did not set a session cookie")
}

func theResponseStatusShouldBe(status int) error {
	if world.resp == nil {
		return fmt.Errorf("no request was sent")
	}
	if world.resp.Code != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, world.resp.Code, world.resp.Body.String())
	}
	return nil
}

func theErrorCodeShouldBe(code string) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(world.resp.Body.Bytes(), &body); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	if body.Code != code {
		return fmt.Errorf("expected error code %q, got %q", code, body.Code)
	}
	return nil
}
