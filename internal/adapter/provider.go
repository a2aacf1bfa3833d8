package adapter

import (
	"context"
)

// Provider hands out a Drive bound to the configured identity.
type Provider interface {
	// GetDrive returns a Drive client. Configuration errors are returned as-is.
	GetDrive(ctx context.Context) (Drive, error)

	// Identity returns the account the Drive client acts as, if known.
	Identity(ctx context.Context) (string, error)
}

// StaticProvider always returns the same Drive. Used with the in-memory Drive.
type StaticProvider struct {
	Drive Drive
	Email string
}

func (p *StaticProvider) GetDrive(ctx context.Context) (Drive, error) {
	if p.Drive == nil {
		return nil, ErrDriveNotConfigured
	}
	return p.Drive, nil
}

func (p *StaticProvider) Identity(ctx context.Context) (string, error) {
	if p.Email == "" {
		return "", ErrNotFound
	}
	return p.Email, nil
}
