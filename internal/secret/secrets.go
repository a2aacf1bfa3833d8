package secret

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/conf"
)

// Secrets holds every resolved secret value. Optional values are empty
// when their parameter is absent.
type Secrets struct {
	SessionSecret      string
	PortalPassword     string
	AdminPassword      string
	ServiceAccountKey  string
	GoogleClientSecret string
	APIGatewaySecret   string
}

// Load resolves all secrets. The session secret is mandatory; the rest
// only disable the feature that needs them.
func Load(ctx context.Context, r Resolver, params conf.SecretParams) (*Secrets, error) {
	sessionSecret, err := r.GetSecret(ctx, params.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session secret: %w", err)
	}

	optional := func(name string) string {
		v, err := r.GetSecret(ctx, name)
		if err != nil {
			log.WithField("param", name).Debugf("optional secret unavailable: %v", err)
			return ""
		}
		return v
	}

	return &Secrets{
		SessionSecret:      sessionSecret,
		PortalPassword:     optional(params.PortalPassword),
		AdminPassword:      optional(params.AdminPassword),
		ServiceAccountKey:  optional(params.ServiceAccountKey),
		GoogleClientSecret: optional(params.GoogleClientSecret),
		APIGatewaySecret:   optional(params.APIGatewaySecret),
	}, nil
}
