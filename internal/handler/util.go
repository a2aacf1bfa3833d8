package handler

import (
	"context"
	"encoding/base64"
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
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

var (
	errBadRequest   = errors.New("invalid request")
	errNotFound     = errors.New("not found")
	errRoleRequired = errors.New("insufficient role")
)

// Header returns a request header regardless of the case API Gateway used.
func Header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// SessionToken extracts the session token from the Authorization header or
// the named cookie.
func SessionToken(req events.APIGatewayProxyRequest, cookieName string) string {
	if authHeader := Header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return Cookie(req, cookieName)
}

// Cookie returns the value of the named request cookie.
func Cookie(req events.APIGatewayProxyRequest, name string) string {
	raw := Header(req, "Cookie")
	if raw == "" {
		return ""
	}
	// Cookie format: a=1; session=xxx; ...
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}

// RequireRole verifies the session on req and checks it grants need.
func RequireRole(req events.APIGatewayProxyRequest, sessions *auth.SessionManager, need model.Role) (*auth.Claims, error) {
	claims, err := sessions.Verify(SessionToken(req, sessions.CookieName()))
	if err != nil {
		return nil, err
	}
	if !claims.Role.Allows(need) {
		return nil, fmt.Errorf("%w: %s required", errRoleRequired, need)
	}
	return claims, nil
}

// body returns the raw request body, decoding API Gateway's base64 wrapping.
func body(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not valid base64", errBadRequest)
	}
	return b, nil
}

func decodeJSON(req events.APIGatewayProxyRequest, v any) error {
	b, err := body(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"failed to encode response","code":"internal"}`}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(b),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func redirect(location string, cookies ...string) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": location,
		},
	}
	if len(cookies) > 0 {
		resp.MultiValueHeaders = map[string][]string{"Set-Cookie": cookies}
	}
	return resp
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error          string `json:"error"`
	Code           string `json:"code"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

// classify maps err to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrInvalidSession):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errRoleRequired):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auth.ErrThrottled):
		return http.StatusTooManyRequests, "throttled"
	case errors.Is(err, upload.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, upload.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge, "chunk_too_large"
	case errors.Is(err, folder.ErrMissingField):
		return http.StatusBadRequest, "missing_field"
	case errors.Is(err, folder.ErrInvalidFolderURL):
		return http.StatusBadRequest, "invalid_folder_url"
	case errors.Is(err, folder.ErrNotAFolder):
		return http.StatusBadRequest, "not_a_folder"
	case errors.Is(err, upload.ErrInvalidRange):
		return http.StatusBadRequest, "invalid_range"
	case errors.Is(err, adapter.ErrInvalidSessionURL):
		return http.StatusBadRequest, "invalid_upload_url"
	case errors.Is(err, upload.ErrInvalidRequest), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, configstore.ErrConflict):
		return http.StatusConflict, "conflict"
	case adapter.IsConfigError(err):
		return http.StatusInternalServerError, "drive_not_configured"
	case errors.Is(err, errNotFound), errors.Is(err, adapter.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case adapter.UpstreamStatus(err) != 0:
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func errorResponse(err error) events.APIGatewayProxyResponse {
	status, code := classify(err)
	entry := log.WithError(err).WithFields(log.Fields{"status": status, "code": code})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	return jsonResponse(status, ErrorBody{
		Error:          err.Error(),
		Code:           code,
		UpstreamStatus: adapter.UpstreamStatus(err),
	})
}
