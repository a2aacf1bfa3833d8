package folder

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	foldersPathRe = regexp.MustCompile(`/folders/([A-Za-z0-9_-]+)`)
	bareIDRe      = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)
)

// ParseFolderID extracts a Drive folder id from a share link such as
// https://drive.google.com/drive/folders/<ID>?usp=sharing, an open link
// carrying ?id=<ID>, or a bare id.
func ParseFolderID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidFolderURL
	}
	if m := foldersPathRe.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		if id := u.Query().Get("id"); bareIDRe.MatchString(id) {
			return id, nil
		}
		return "", ErrInvalidFolderURL
	}
	if bareIDRe.MatchString(raw) {
		return raw, nil
	}
	return "", ErrInvalidFolderURL
}
