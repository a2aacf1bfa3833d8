package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter/memory"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/changelog"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/conf"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/crypto"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/lock"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/markdown"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/retry"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

func testServices(devMode bool, originSecret string) *Services {
	store := configstore.NewStore(configstore.NewMemoryBackend(), "config/portal", "admin-state/state")
	provider := &adapter.StaticProvider{Drive: memory.NewDrive()}
	resolver := folder.NewResolver(store, lock.NewMemoryLocker(), "JJA eTearsheets", time.Second)
	limits := upload.Limits{SimpleMaxBytes: 1024, ChunkMaxBytes: 512, ChunkSizeBytes: 512}
	return &Services{
		Sessions:        auth.NewSessionManager("test-secret", time.Hour, "session", false),
		Passwords:       auth.NewPasswordAuthenticator("portal-pass", "admin-pass", 100, 100),
		OAuth:           auth.NewAuthService(oauthConfig(&conf.Config{DevMode: true}, ""), nil, "AdminTokens", crypto.NewMockEncryptor()),
		Store:           store,
		Provider:        provider,
		Resolver:        resolver,
		Uploads:         upload.NewService(provider, resolver, retry.Policy{Attempts: 1}, limits, time.UTC),
		Changelog:       changelog.Load(markdown.NewRenderer()),
		DefaultRootName: "JJA eTearsheets",
		FrontendURL:     "http://localhost:3000",
		OriginSecret:    originSecret,
		DevMode:         devMode,
	}
}

func userToken(t *testing.T, s *Services) string {
	token, _, err := s.Sessions.Issue("user")
	require.NoError(t, err)
	return token
}

func TestHandleRequest_Preflight(t *testing.T) {
	a := New(testServices(false, "cf-secret"))
	resp, err := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: "OPTIONS", Path: "/api/upload/proxy"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "true", resp.Headers["Access-Control-Allow-Credentials"])
}

func TestHandleRequest_OriginGate(t *testing.T) {
	s := testServices(false, "cf-secret")
	a := New(s)
	req := events.APIGatewayProxyRequest{
		HTTPMethod: "GET",
		Path:       "/api/upload/limits",
		Headers:    map[string]string{"Authorization": "Bearer " + userToken(t, s)},
	}

	resp, _ := a.HandleRequest(context.Background(), req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req.Headers["x-origin-verify"] = "cf-secret"
	resp, _ = a.HandleRequest(context.Background(), req)
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
}

func TestHandleRequest_DevModeSkipsOriginGate(t *testing.T) {
	s := testServices(true, "cf-secret")
	a := New(s)
	resp, _ := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: "GET",
		Path:       "/upload/limits",
		Headers:    map[string]string{"Authorization": "Bearer " + userToken(t, s)},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleRequest_Routing(t *testing.T) {
	s := testServices(true, "")
	a := New(s)
	token := userToken(t, s)

	tests := []struct {
		method, path string
		status       int
	}{
		{"GET", "/api/config", http.StatusOK},
		{"GET", "/api/config/", http.StatusOK},
		{"GET", "/config", http.StatusOK},
		{"PUT", "/api/config", http.StatusForbidden},
		{"GET", "/api/admin-state", http.StatusForbidden},
		{"GET", "/api/unknown", http.StatusNotFound},
		{"DELETE", "/api/config", http.StatusNotFound},
		{"GET", "/apiconfig", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, err := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{
				HTTPMethod: tt.method,
				Path:       tt.path,
				Headers:    map[string]string{"Authorization": "Bearer " + token},
				Body:       "{}",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode, resp.Body)
			assert.NotEmpty(t, resp.Headers["Access-Control-Allow-Origin"])
		})
	}
}

func TestRouter_LoginThenUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(testServices(true, "")).Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader("password=portal-pass&from=%2Fupload"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/upload", w.Header().Get("Location"))
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)

	body := `{"client":"Acme","campaign":"Spring24","publication":"DailyPost","fileName":"ad.pdf","fileSize":10}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/upload/initiate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookies[0])
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sess upload.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.True(t, strings.HasPrefix(sess.UploadURL, memory.SessionURLPrefix))
	assert.True(t, strings.HasPrefix(sess.FileName, "DailyPost_"))
}

func TestRouter_Unauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(testServices(true, "")).Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/config", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestProxyRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/upload?x=1", strings.NewReader("payload"))
	req.Header.Set("Content-Type", "text/plain")

	ev, err := ProxyRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "/api/upload", ev.Path)
	assert.Equal(t, "1", ev.QueryStringParameters["x"])
	assert.True(t, ev.IsBase64Encoded)
	assert.Equal(t, "cGF5bG9hZA==", ev.Body)
	assert.Equal(t, "text/plain", ev.Headers["Content-Type"])
}
