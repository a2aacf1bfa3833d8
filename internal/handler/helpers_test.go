package handler_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter/memory"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/lock"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/retry"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

const testSecret = "test-secret"

var testLimits = upload.Limits{SimpleMaxBytes: 64, ChunkMaxBytes: 16, ChunkSizeBytes: 16}

func newSessions() *auth.SessionManager {
	return auth.NewSessionManager(testSecret, time.Hour, "session", false)
}

func tokenFor(t *testing.T, m *auth.SessionManager, role model.Role) string {
	t.Helper()
	token, _, err := m.Issue(role)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func makeRequest(method, path, body, token string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		QueryStringParameters: map[string]string{},
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	return req
}

type multipartFile struct {
	field, name string
	data        []byte
}

// multipartRequest builds a base64-encoded multipart body the way API
// Gateway delivers binary payloads.
func multipartRequest(t *testing.T, path, token string, fields map[string]string, files ...multipartFile) events.APIGatewayProxyRequest {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(f.data)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := makeRequest("POST", path, base64.StdEncoding.EncodeToString(buf.Bytes()), token)
	req.IsBase64Encoded = true
	req.Headers["Content-Type"] = w.FormDataContentType()
	return req
}

func decodeBody(t *testing.T, resp events.APIGatewayProxyResponse, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resp.Body), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", resp.Body, err)
	}
}

func errorCode(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	return body.Code
}

type testEnv struct {
	sessions *auth.SessionManager
	store    *configstore.Store
	drive    *memory.Drive
	provider *adapter.StaticProvider
	uploads  *upload.Service
	user     string
	admin    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sessions := newSessions()
	store := configstore.NewStore(configstore.NewMemoryBackend(), "config/portal", "admin-state/state")
	d := memory.NewDrive()
	provider := &adapter.StaticProvider{Drive: d}
	resolver := folder.NewResolver(store, lock.NewMemoryLocker(), "JJA eTearsheets", time.Second)
	uploads := upload.NewService(provider, resolver, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, testLimits, time.UTC)
	return &testEnv{
		sessions: sessions,
		store:    store,
		drive:    d,
		provider: provider,
		uploads:  uploads,
		user:     tokenFor(t, sessions, model.RoleUser),
		admin:    tokenFor(t, sessions, model.RoleAdmin),
	}
}
