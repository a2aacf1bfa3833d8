package googledrive

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/drive/v3"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// AdminClientSource yields an HTTP client authorized by the admin's linked Google account.
type AdminClientSource interface {
	GetClient(ctx context.Context) (*http.Client, error)
	AdminEmail(ctx context.Context) (string, error)
}

// ServiceAccount identifies a domain-wide delegated service account.
type ServiceAccount struct {
	Email      string
	PrivateKey string
	// Subject is the Workspace user the service account acts as.
	Subject string
}

// Provider implements adapter.Provider for Google Drive.
type Provider struct {
	account *ServiceAccount
	admin   AdminClientSource
	opts    []Option
}

// NewServiceAccountProvider authenticates as account, impersonating account.Subject.
func NewServiceAccountProvider(account ServiceAccount, opts ...Option) *Provider {
	return &Provider{account: &account, opts: opts}
}

// NewOAuthProvider authenticates with the admin's stored refresh token.
func NewOAuthProvider(admin AdminClientSource, opts ...Option) *Provider {
	return &Provider{admin: admin, opts: opts}
}

// GetDrive returns a DriveAdapter for the configured identity.
func (p *Provider) GetDrive(ctx context.Context) (adapter.Drive, error) {
	client, err := p.httpClient(ctx)
	if err != nil {
		return nil, err
	}
	d, err := NewDriveAdapter(ctx, client, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive adapter: %w", err)
	}
	return d, nil
}

// Identity returns the impersonated user or the linked admin account.
func (p *Provider) Identity(ctx context.Context) (string, error) {
	if p.account != nil {
		if p.account.Subject == "" {
			return "", adapter.ErrNotFound
		}
		return p.account.Subject, nil
	}
	return p.admin.AdminEmail(ctx)
}

func (p *Provider) httpClient(ctx context.Context) (*http.Client, error) {
	if p.account == nil {
		client, err := p.admin.GetClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authenticated client: %w", err)
		}
		return client, nil
	}

	a := p.account
	if a.Email == "" || a.PrivateKey == "" {
		return nil, adapter.ErrMissingCredentials
	}
	if a.Subject == "" {
		return nil, adapter.ErrMissingImpersonation
	}
	cfg := &jwt.Config{
		Email:      a.Email,
		PrivateKey: []byte(NormalizePrivateKey(a.PrivateKey)),
		Scopes:     []string{drive.DriveScope},
		TokenURL:   google.JWTTokenURL,
		Subject:    a.Subject,
	}
	return cfg.Client(ctx), nil
}

// NormalizePrivateKey restores newlines in a PEM key stored with escaped "\n".
func NormalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}
