// Package app wires the portal's handlers behind a single API Gateway entry point.
package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/changelog"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/handler"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

// HandlerFunc is the signature shared by every handler method.
type HandlerFunc func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// Services are the dependencies the routes are built from.
type Services struct {
	Sessions        *auth.SessionManager
	Passwords       *auth.PasswordAuthenticator
	OAuth           handler.OAuthFlow
	Store           *configstore.Store
	Provider        adapter.Provider
	Resolver        *folder.Resolver
	Uploads         *upload.Service
	Changelog       *changelog.Changelog
	DefaultRootName string

	// FrontendURL is echoed in Access-Control-Allow-Origin.
	FrontendURL string
	// OriginSecret, when set, must match the X-Origin-Verify header.
	OriginSecret string
	DevMode      bool
	SecureCookie bool
}

// App holds the route table for the Lambda function.
type App struct {
	routes       map[string]HandlerFunc
	frontendURL  string
	originSecret string
	devMode      bool
}

func routeKey(method, path string) string {
	return method + " " + path
}

// New builds the route table from s.
func New(s *Services) *App {
	authH := handler.NewAuthHandler(s.Sessions, s.Passwords, s.OAuth, s.Store, s.SecureCookie)
	configH := handler.NewConfigHandler(s.Sessions, s.Store, s.Provider, s.DefaultRootName)
	notifyH := handler.NewNotificationHandler(s.Sessions, s.Store)
	stateH := handler.NewAdminStateHandler(s.Sessions, s.Store, s.Changelog)
	uploadH := handler.NewUploadHandler(s.Sessions, s.Uploads)

	routes := map[string]HandlerFunc{
		routeKey("POST", "/auth/login"):      authH.Login,
		routeKey("POST", "/auth/logout"):     authH.Logout,
		routeKey("GET", "/auth/session"):     authH.Session,
		routeKey("GET", "/auth/google"):      authH.Google,
		routeKey("GET", "/auth/callback"):    authH.Callback,
		routeKey("GET", "/user-email"):       configH.UserEmail,
		routeKey("GET", "/config"):           configH.GetConfig,
		routeKey("PUT", "/config"):           configH.PutConfig,
		routeKey("POST", "/config/reset"):    configH.ResetConfig,
		routeKey("GET", "/verify-folder"):    configH.VerifyFolder,
		routeKey("GET", "/notifications"):    notifyH.List,
		routeKey("POST", "/notifications"):   notifyH.Dismiss,
		routeKey("GET", "/admin-state"):      stateH.Get,
		routeKey("POST", "/admin-state"):     stateH.Post,
		routeKey("GET", "/upload/limits"):    uploadH.Limits,
		routeKey("POST", "/upload/initiate"): uploadH.Initiate,
		routeKey("POST", "/upload/proxy"):    uploadH.Proxy,
		routeKey("POST", "/upload/complete"): uploadH.Complete,
		routeKey("POST", "/upload"):          uploadH.Upload,
	}

	if !s.DevMode && s.OriginSecret == "" {
		log.Warn("API gateway origin secret is not set, X-Origin-Verify is not enforced")
	}
	return &App{
		routes:       routes,
		frontendURL:  s.FrontendURL,
		originSecret: s.OriginSecret,
		devMode:      s.DevMode,
	}
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	resp := app.route(ctx, req)
	log.WithFields(log.Fields{
		"method":      req.HTTPMethod,
		"path":        req.Path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("request")
	return app.corsResponse(resp), nil
}

func (app *App) route(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	method := req.HTTPMethod

	// CORS Preflight
	if method == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}

	// Only CloudFront knows the origin secret.
	if !app.devMode && app.originSecret != "" {
		got := handler.Header(req, "X-Origin-Verify")
		if subtle.ConstantTimeCompare([]byte(got), []byte(app.originSecret)) != 1 {
			log.Warn("blocked request without a valid X-Origin-Verify header")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path := req.Path
	if path == "/api" || strings.HasPrefix(path, "/api/") {
		path = strings.TrimPrefix(path, "/api")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if req.QueryStringParameters == nil {
		req.QueryStringParameters = map[string]string{}
	}

	h, ok := app.routes[routeKey(method, path)]
	if !ok {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("Not Found: %s %s", method, path),
		}
	}
	return must(h(ctx, req))
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response; handlers report failures in the response.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		log.WithError(err).Error("handler error")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
