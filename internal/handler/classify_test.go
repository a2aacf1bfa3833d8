package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrNoSession, http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("%w: expired", auth.ErrInvalidSession), http.StatusUnauthorized, "unauthorized"},
		{errRoleRequired, http.StatusForbidden, "forbidden"},
		{auth.ErrThrottled, http.StatusTooManyRequests, "throttled"},
		{upload.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{upload.ErrChunkTooLarge, http.StatusRequestEntityTooLarge, "chunk_too_large"},
		{folder.ErrMissingField, http.StatusBadRequest, "missing_field"},
		{folder.ErrInvalidFolderURL, http.StatusBadRequest, "invalid_folder_url"},
		{folder.ErrNotAFolder, http.StatusBadRequest, "not_a_folder"},
		{upload.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
		{adapter.ErrInvalidSessionURL, http.StatusBadRequest, "invalid_upload_url"},
		{upload.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{configstore.ErrConflict, http.StatusConflict, "conflict"},
		{fmt.Errorf("resolve: %w", adapter.ErrMissingCredentials), http.StatusInternalServerError, "drive_not_configured"},
		{&adapter.UpstreamError{Op: "get file", StatusCode: 404}, http.StatusNotFound, "not_found"},
		{fmt.Errorf("upload: %w", &adapter.UpstreamError{Op: "create file", StatusCode: 503}), http.StatusBadGateway, "upstream_error"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.err.Error(), func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}

func TestParseForm_URLEncoded(t *testing.T) {
	req := events.APIGatewayProxyRequest{
		Headers: map[string]string{"content-type": "application/x-www-form-urlencoded; charset=utf-8"},
		Body:    "password=s3cret&from=%2Fadmin",
	}
	f, err := parseForm(req, 0)
	if err != nil {
		t.Fatalf("parseForm failed: %v", err)
	}
	if f.value("password") != "s3cret" || f.value("from") != "/admin" {
		t.Errorf("Unexpected values %v", f.values)
	}
}

func TestParseForm_Rejects(t *testing.T) {
	tests := []struct {
		name string
		req  events.APIGatewayProxyRequest
	}{
		{"no content type", events.APIGatewayProxyRequest{Body: "a=b"}},
		{"json", events.APIGatewayProxyRequest{Headers: map[string]string{"Content-Type": "application/json"}, Body: "{}"}},
		{"no boundary", events.APIGatewayProxyRequest{Headers: map[string]string{"Content-Type": "multipart/form-data"}, Body: "x"}},
		{"bad base64", events.APIGatewayProxyRequest{Headers: map[string]string{"Content-Type": "multipart/form-data; boundary=x"}, Body: "%%%", IsBase64Encoded: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseForm(tt.req, 10); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestSafeRedirect(t *testing.T) {
	cases := map[string]string{
		"/admin":              "/admin",
		"":                    "/",
		"https://evil.com":    "/",
		"//evil.com":          "/",
		"/\\evil.com":         "/",
		"/upload?client=Acme": "/upload?client=Acme",
	}
	for in, want := range cases {
		if got := safeRedirect(in); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}
