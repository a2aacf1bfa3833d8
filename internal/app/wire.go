package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter/googledrive"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter/memory"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/auth"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/changelog"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/conf"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/crypto"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/folder"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/lock"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/logging"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/markdown"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/retry"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/secret"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/upload"
)

// tokenPurpose is the KMS encryption context of the admin refresh token.
const tokenPurpose = "admin-drive-token"

// backends are the stateful dependencies that differ between DEV_MODE and AWS.
type backends struct {
	resolver  secret.Resolver
	docs      configstore.Backend
	locker    lock.Locker
	encryptor crypto.Encryptor
	tokens    auth.DynamoAPI
}

func devBackends() *backends {
	log.Info("DEV_MODE: using in-memory storage, env secrets and mock encryption")
	return &backends{
		resolver:  secret.NewEnvResolver(),
		docs:      configstore.NewMemoryBackend(),
		locker:    lock.NewMemoryLocker(),
		encryptor: crypto.NewMockEncryptor(),
	}
}

func awsBackends(ctx context.Context, cfg *conf.Config) (*backends, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	return &backends{
		resolver:  secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)),
		docs:      configstore.NewDynamoBackend(dynamoClient, cfg.Tables.Documents),
		locker:    lock.NewLockManager(dynamoClient, cfg.Tables.FolderLocks, cfg.Upload.FolderLockTTL),
		encryptor: crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.Tables.KMSKeyID, tokenPurpose),
		tokens:    dynamoClient,
	}, nil
}

func oauthConfig(cfg *conf.Config, clientSecret string) *oauth2.Config {
	redirectURL := cfg.Drive.RedirectURL
	if redirectURL == "" {
		if cfg.DevMode {
			redirectURL = "http://localhost:8080/auth/callback"
		} else {
			redirectURL = cfg.FrontendURL + "/api/auth/callback"
		}
	}
	return &oauth2.Config{
		ClientID:     cfg.Drive.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: google.Endpoint,
	}
}

// driveProvider picks the Drive identity. DEV_MODE always uses the
// in-memory Drive.
func driveProvider(cfg *conf.Config, secrets *secret.Secrets, authService *auth.AuthService) adapter.Provider {
	if cfg.DevMode {
		return &adapter.StaticProvider{Drive: memory.NewDrive(), Email: cfg.Drive.ImpersonateUser}
	}
	opts := []googledrive.Option{
		googledrive.WithUploadBaseURL(cfg.Drive.UploadBaseURL),
		googledrive.WithTimeouts(cfg.Upload.SessionOpenLimit, cfg.Upload.ChunkPutTimeout),
	}
	if cfg.Drive.AuthMode == conf.DriveAuthOAuth {
		return googledrive.NewOAuthProvider(authService, opts...)
	}
	return googledrive.NewServiceAccountProvider(googledrive.ServiceAccount{
		Email:      cfg.Drive.ServiceAccountEmail,
		PrivateKey: secrets.ServiceAccountKey,
		Subject:    cfg.Drive.ImpersonateUser,
	}, opts...)
}

func retryPolicy(u conf.Upload) retry.Policy {
	return retry.Policy{
		Attempts:  u.RetryAttempts,
		BaseDelay: u.RetryBaseDelay,
		MaxDelay:  u.RetryMaxDelay,
	}
}

// Build resolves secrets and constructs every service for cfg.
func Build(ctx context.Context, cfg *conf.Config) (*Services, error) {
	var (
		b   *backends
		err error
	)
	if cfg.DevMode {
		b = devBackends()
	} else if b, err = awsBackends(ctx, cfg); err != nil {
		return nil, err
	}

	secrets, err := secret.Load(ctx, b.resolver, cfg.Secrets)
	if err != nil {
		return nil, err
	}
	if secrets.PortalPassword == "" || secrets.AdminPassword == "" {
		log.Warn("portal or admin password is not configured, login is disabled")
	}

	store := configstore.NewStore(b.docs, cfg.Tables.ConfigKey, cfg.Tables.AdminStateKey)
	authService := auth.NewAuthService(oauthConfig(cfg, secrets.GoogleClientSecret), b.tokens, cfg.Tables.AdminTokens, b.encryptor)
	provider := driveProvider(cfg, secrets, authService)
	resolver := folder.NewResolver(store, b.locker, cfg.Drive.DefaultRootFolderName, cfg.Upload.FolderLockWait)
	limits := upload.Limits{
		SimpleMaxBytes: cfg.Upload.SimpleMaxBytes,
		ChunkMaxBytes:  cfg.Upload.ChunkMaxBytes,
		ChunkSizeBytes: cfg.Upload.ChunkSizeBytes,
	}

	return &Services{
		Sessions:        auth.NewSessionManager(secrets.SessionSecret, cfg.Session.TTL, cfg.Session.CookieName, !cfg.Session.InsecureHTTP),
		Passwords:       auth.NewPasswordAuthenticator(secrets.PortalPassword, secrets.AdminPassword, cfg.Session.LoginRate, cfg.Session.LoginBurst),
		OAuth:           authService,
		Store:           store,
		Provider:        provider,
		Resolver:        resolver,
		Uploads:         upload.NewService(provider, resolver, retryPolicy(cfg.Upload), limits, cfg.Upload.Location()),
		Changelog:       changelog.Load(markdown.NewRenderer()),
		DefaultRootName: cfg.Drive.DefaultRootFolderName,
		FrontendURL:     cfg.FrontendURL,
		OriginSecret:    secrets.APIGatewaySecret,
		DevMode:         cfg.DevMode,
		SecureCookie:    !cfg.Session.InsecureHTTP,
	}, nil
}

// NewFromEnv loads configuration from the environment, sets up logging and
// builds the App.
func NewFromEnv(ctx context.Context) (*App, error) {
	cfg, err := conf.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log)
	s, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(s), nil
}
