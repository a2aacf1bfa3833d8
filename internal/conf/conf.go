// Package conf loads the portal settings from the environment.
package conf

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// Drive authentication modes.
const (
	DriveAuthServiceAccount = "service_account"
	DriveAuthOAuth          = "oauth"
)

// HardPayloadCeiling is the largest body the Lambda proxy integration accepts
// once base64 inflation is accounted for.
const HardPayloadCeiling = 6 * 1024 * 1024 * 3 / 4

// Config is the complete runtime configuration.
type Config struct {
	DevMode     bool   `env:"DEV_MODE"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	Log     Log
	Tables  Tables
	Secrets SecretParams
	Drive   Drive
	Upload  Upload
	Session Session
}

// Log configures logrus.
type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
	File   string `env:"LOG_FILE"`
}

// Tables names the DynamoDB tables and document keys.
type Tables struct {
	Documents     string `env:"DOCUMENTS_TABLE" envDefault:"PortalDocuments"`
	ConfigKey     string `env:"APP_CONFIG_KEY" envDefault:"config/upload-portal-config"`
	AdminStateKey string `env:"ADMIN_STATE_KEY" envDefault:"admin-state/admin-state"`
	FolderLocks   string `env:"FOLDER_LOCKS_TABLE" envDefault:"FolderLocks"`
	AdminTokens   string `env:"ADMIN_TOKENS_TABLE" envDefault:"AdminTokens"`
	KMSKeyID      string `env:"KMS_KEY_ID" envDefault:"alias/etearsheets-token-key"`
}

// SecretParams are SSM parameter names. In DEV_MODE the last path segment
// is read from the environment instead.
type SecretParams struct {
	SessionSecret      string `env:"SESSION_SECRET_PARAM" envDefault:"/etearsheets/session-secret"`
	PortalPassword     string `env:"PORTAL_PASSWORD_PARAM" envDefault:"/etearsheets/portal-password"`
	AdminPassword      string `env:"ADMIN_PASSWORD_PARAM" envDefault:"/etearsheets/admin-password"`
	ServiceAccountKey  string `env:"SERVICE_ACCOUNT_KEY_PARAM" envDefault:"/etearsheets/google-service-account-private-key"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET_PARAM" envDefault:"/etearsheets/google-client-secret"`
	APIGatewaySecret   string `env:"API_GATEWAY_SECRET_PARAM" envDefault:"/etearsheets/api-gateway-secret"`
}

// Drive configures access to Google Drive.
type Drive struct {
	AuthMode              string `env:"DRIVE_AUTH_MODE" envDefault:"service_account"`
	ServiceAccountEmail   string `env:"GOOGLE_SERVICE_ACCOUNT_EMAIL"`
	ImpersonateUser       string `env:"GOOGLE_IMPERSONATE_USER"`
	ClientID              string `env:"GOOGLE_CLIENT_ID"`
	RedirectURL           string `env:"GOOGLE_REDIRECT_URL"`
	DefaultRootFolderName string `env:"DEFAULT_ROOT_FOLDER_NAME" envDefault:"JJA eTearsheets"`
	UploadBaseURL         string `env:"DRIVE_UPLOAD_BASE_URL" envDefault:"https://www.googleapis.com/upload/drive/v3/files"`
}

// Upload holds the size thresholds shared with the browser and the retry policy.
type Upload struct {
	SimpleMaxBytes   int64         `env:"UPLOAD_SIMPLE_MAX_BYTES" envDefault:"4194304"`
	ChunkMaxBytes    int64         `env:"UPLOAD_CHUNK_MAX_BYTES" envDefault:"3145728"`
	ChunkSizeBytes   int64         `env:"UPLOAD_CHUNK_SIZE_BYTES" envDefault:"3145728"`
	RetryAttempts    uint          `env:"UPLOAD_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"UPLOAD_RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay    time.Duration `env:"UPLOAD_RETRY_MAX_DELAY" envDefault:"8s"`
	TimeZone         string        `env:"UPLOAD_TIMEZONE" envDefault:"UTC"`
	FolderLockTTL    time.Duration `env:"FOLDER_LOCK_TTL" envDefault:"30s"`
	FolderLockWait   time.Duration `env:"FOLDER_LOCK_WAIT" envDefault:"5s"`
	ChunkPutTimeout  time.Duration `env:"CHUNK_PUT_TIMEOUT" envDefault:"60s"`
	SessionOpenLimit time.Duration `env:"SESSION_OPEN_TIMEOUT" envDefault:"30s"`
}

// Session configures role tokens and login throttling.
type Session struct {
	TTL          time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CookieName   string        `env:"SESSION_COOKIE" envDefault:"session"`
	LoginRate    float64       `env:"LOGIN_RATE_PER_SECOND" envDefault:"1"`
	LoginBurst   int           `env:"LOGIN_BURST" envDefault:"5"`
	InsecureHTTP bool          `env:"SESSION_INSECURE_COOKIE"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints between settings.
func (c *Config) Validate() error {
	u := c.Upload
	if u.ChunkMaxBytes <= 0 || u.ChunkSizeBytes <= 0 || u.SimpleMaxBytes <= 0 {
		return fmt.Errorf("upload sizes must be positive")
	}
	if u.ChunkSizeBytes > u.ChunkMaxBytes {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE_BYTES (%d) exceeds UPLOAD_CHUNK_MAX_BYTES (%d)", u.ChunkSizeBytes, u.ChunkMaxBytes)
	}
	if u.ChunkSizeBytes%adapter.ResumableChunkAlignment != 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE_BYTES (%d) must be a multiple of %d", u.ChunkSizeBytes, adapter.ResumableChunkAlignment)
	}
	if u.SimpleMaxBytes > HardPayloadCeiling {
		return fmt.Errorf("UPLOAD_SIMPLE_MAX_BYTES (%d) exceeds the transport ceiling (%d)", u.SimpleMaxBytes, HardPayloadCeiling)
	}
	if u.ChunkMaxBytes >= HardPayloadCeiling {
		return fmt.Errorf("UPLOAD_CHUNK_MAX_BYTES (%d) leaves no room for form fields under %d", u.ChunkMaxBytes, HardPayloadCeiling)
	}
	if u.RetryAttempts == 0 {
		return fmt.Errorf("UPLOAD_RETRY_ATTEMPTS must be at least 1")
	}
	if _, err := time.LoadLocation(u.TimeZone); err != nil {
		return fmt.Errorf("UPLOAD_TIMEZONE: %w", err)
	}
	switch c.Drive.AuthMode {
	case DriveAuthServiceAccount, DriveAuthOAuth:
	default:
		return fmt.Errorf("unknown DRIVE_AUTH_MODE %q", c.Drive.AuthMode)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

// Location returns the time zone used for dated file names.
func (u Upload) Location() *time.Location {
	loc, err := time.LoadLocation(u.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
