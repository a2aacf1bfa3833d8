package adapter

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a requested file or folder does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden is returned when the Drive identity lacks access.
	ErrForbidden = errors.New("access forbidden")

	// ErrMissingCredentials means the service account email or key is not configured.
	ErrMissingCredentials = errors.New("google service account credentials are not configured")

	// ErrMissingImpersonation means no user to impersonate is configured.
	ErrMissingImpersonation = errors.New("google impersonation user is not configured")

	// ErrDriveNotConfigured means the admin has not linked a Drive account yet.
	ErrDriveNotConfigured = errors.New("google drive is not connected")

	// ErrInvalidSessionURL means a resumable session URL does not belong to the upload host.
	ErrInvalidSessionURL = errors.New("upload url is not a drive upload session")

	// ErrCredentialsRejected means Google refused to issue a token for the configured identity.
	ErrCredentialsRejected = errors.New("google rejected the configured credentials")
)

// IsConfigError reports whether err is a configuration error that no retry can fix.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrMissingImpersonation) ||
		errors.Is(err, ErrDriveNotConfigured) ||
		errors.Is(err, ErrCredentialsRejected)
}

// UpstreamError carries a non-success response from the Drive API verbatim.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is lets errors.Is match 404 and 403 responses against the sentinels.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// UpstreamStatus extracts the upstream HTTP status from err, or 0.
func UpstreamStatus(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}
