package model

import "time"

// Role is the authorization level carried in a session token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Allows reports whether a session holding r may access a route requiring need.
// Admin implies user.
func (r Role) Allows(need Role) bool {
	if r == RoleAdmin {
		return need.Valid()
	}
	return r == need
}

// Entry is a client, campaign or publication name shown in the upload form.
type Entry struct {
	Name   string `json:"name" yaml:"name"`
	Hidden bool   `json:"hidden" yaml:"hidden"`
}

// DriveSettings holds the root folder configuration. RootFolderID and
// RootFolderName are a cache derived from ParentFolderURL when it is set.
type DriveSettings struct {
	RootFolderID    string `json:"rootFolderId,omitempty" yaml:"rootFolderId,omitempty"`
	RootFolderName  string `json:"rootFolderName,omitempty" yaml:"rootFolderName,omitempty"`
	IsConfigured    bool   `json:"isConfigured" yaml:"isConfigured"`
	ParentFolderURL string `json:"parentFolderUrl,omitempty" yaml:"parentFolderUrl,omitempty"`
}

// AdminNotification is a message shown in the admin panel until dismissed.
type AdminNotification struct {
	ID          string    `json:"id" yaml:"id"`
	Version     string    `json:"version,omitempty" yaml:"version,omitempty"`
	Title       string    `json:"title" yaml:"title"`
	Message     string    `json:"message" yaml:"message"`
	Type        string    `json:"type" yaml:"type"` // info, warning, success
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	DismissedBy []string  `json:"dismissedBy" yaml:"dismissedBy"`
}

// DismissedByAdmin reports whether adminID already dismissed n.
func (n AdminNotification) DismissedByAdmin(adminID string) bool {
	for _, id := range n.DismissedBy {
		if id == adminID {
			return true
		}
	}
	return false
}

// PortalConfig is the single global settings document.
type PortalConfig struct {
	Clients            []Entry             `json:"clients" yaml:"clients"`
	Campaigns          []Entry             `json:"campaigns" yaml:"campaigns"`
	Publications       []Entry             `json:"publications" yaml:"publications"`
	DriveSettings      *DriveSettings      `json:"driveSettings,omitempty" yaml:"driveSettings,omitempty"`
	AdminNotifications []AdminNotification `json:"adminNotifications,omitempty" yaml:"adminNotifications,omitempty"`
}

// EmptyConfig returns the document served before anything was saved.
func EmptyConfig() *PortalConfig {
	return &PortalConfig{
		Clients:      []Entry{},
		Campaigns:    []Entry{},
		Publications: []Entry{},
	}
}

// Normalize replaces nil lists so the JSON shape is stable.
func (c *PortalConfig) Normalize() {
	if c.Clients == nil {
		c.Clients = []Entry{}
	}
	if c.Campaigns == nil {
		c.Campaigns = []Entry{}
	}
	if c.Publications == nil {
		c.Publications = []Entry{}
	}
}

// Drive returns DriveSettings, allocating it when absent.
func (c *PortalConfig) Drive() *DriveSettings {
	if c.DriveSettings == nil {
		c.DriveSettings = &DriveSettings{}
	}
	return c.DriveSettings
}

// Visible returns a copy holding only the non-hidden entries and no admin data.
func (c *PortalConfig) Visible() *PortalConfig {
	filter := func(in []Entry) []Entry {
		out := []Entry{}
		for _, e := range in {
			if !e.Hidden {
				out = append(out, e)
			}
		}
		return out
	}
	return &PortalConfig{
		Clients:      filter(c.Clients),
		Campaigns:    filter(c.Campaigns),
		Publications: filter(c.Publications),
	}
}

// AdminState tracks which release notes the admins have acknowledged.
type AdminState struct {
	LastDismissedVersion string    `json:"lastDismissedVersion" yaml:"lastDismissedVersion"`
	UpdatedAt            time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// DefaultAdminVersion is the baseline before any dismissal.
const DefaultAdminVersion = "0.0.0"

// AdminToken is the admin's Drive OAuth grant stored in DynamoDB.
type AdminToken struct {
	AccountID             string    `json:"account_id" dynamodbav:"account_id"`
	Email                 string    `json:"email" dynamodbav:"email"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// FolderLock is a short-lived lease guarding folder find-or-create.
type FolderLock struct {
	LockKey   string `json:"lock_key" dynamodbav:"lock_key"`
	Owner     string `json:"owner" dynamodbav:"owner"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}
