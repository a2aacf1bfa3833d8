package handler_test

import (
	"context"
	"testing"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/changelog"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/handler"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/markdown"
)

const testChangelog = `# Changelog

## [2.1.0] - 2024-05-01

### Added
- Resumable uploads

## [2.0.0] - 2024-04-01

### Changed
- New folder layout

## [1.0.0] - 2024-01-01

### Added
- First release
`

type adminStateBody struct {
	State struct {
		LastDismissedVersion string `json:"lastDismissedVersion"`
	} `json:"state"`
	CurrentVersion string `json:"currentVersion"`
	UnseenVersions []struct {
		Version string `json:"version"`
		Title   string `json:"title"`
	} `json:"unseenVersions"`
	RecentVersions []struct {
		Version string `json:"version"`
	} `json:"recentVersions"`
	HasUnseen bool `json:"hasUnseen"`
}

func newAdminStateHandler(env *testEnv) *handler.AdminStateHandler {
	cl := changelog.Parse(markdown.NewRenderer(), []byte(testChangelog))
	return handler.NewAdminStateHandler(env.sessions, env.store, cl)
}

func TestAdminState_UnseenThenDismissed(t *testing.T) {
	env := newTestEnv(t)
	h := newAdminStateHandler(env)
	ctx := context.Background()

	resp, _ := h.Get(ctx, makeRequest("GET", "/admin-state", "", env.admin))
	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	var got adminStateBody
	decodeBody(t, resp, &got)
	if got.State.LastDismissedVersion != "0.0.0" {
		t.Errorf("Expected baseline 0.0.0, got %s", got.State.LastDismissedVersion)
	}
	if got.CurrentVersion != "2.1.0" {
		t.Errorf("Expected current 2.1.0, got %s", got.CurrentVersion)
	}
	if !got.HasUnseen || len(got.UnseenVersions) != 3 || got.UnseenVersions[0].Version != "2.1.0" {
		t.Errorf("Unexpected unseen versions: %+v", got.UnseenVersions)
	}
	if len(got.RecentVersions) != 3 {
		t.Errorf("Expected 3 recent versions, got %d", len(got.RecentVersions))
	}

	resp, _ = h.Post(ctx, makeRequest("POST", "/admin-state", `{"action":"dismiss","version":"2.0.0"}`, env.admin))
	if resp.StatusCode != 200 {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	resp, _ = h.Get(ctx, makeRequest("GET", "/admin-state", "", env.admin))
	got = adminStateBody{}
	decodeBody(t, resp, &got)
	if len(got.UnseenVersions) != 1 || got.UnseenVersions[0].Version != "2.1.0" {
		t.Errorf("Expected only 2.1.0 unseen, got %+v", got.UnseenVersions)
	}

	// Dismiss without a version acknowledges the running release.
	resp, _ = h.Post(ctx, makeRequest("POST", "/admin-state", `{"action":"dismiss"}`, env.admin))
	var msg struct {
		Message string `json:"message"`
	}
	decodeBody(t, resp, &msg)
	if msg.Message != "Dismissed version 2.1.0" {
		t.Errorf("Unexpected message %q", msg.Message)
	}
	resp, _ = h.Get(ctx, makeRequest("GET", "/admin-state", "", env.admin))
	got = adminStateBody{}
	decodeBody(t, resp, &got)
	if got.HasUnseen {
		t.Errorf("Expected nothing unseen, got %+v", got.UnseenVersions)
	}
}

func TestAdminState_PostErrors(t *testing.T) {
	env := newTestEnv(t)
	h := newAdminStateHandler(env)

	tests := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"user session", env.user, `{"action":"dismiss"}`, 403},
		{"unknown action", env.admin, `{"action":"reset"}`, 400},
		{"bad version", env.admin, `{"action":"dismiss","version":"latest"}`, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.Post(context.Background(), makeRequest("POST", "/admin-state", tt.body, tt.token))
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d: %s", tt.status, resp.StatusCode, resp.Body)
			}
		})
	}
}
