package changelog

import (
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// Version is a parsed MAJOR.MINOR.PATCH string.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses "1.2.3" or "v1.2.3".
func ParseVersion(s string) (Version, bool) {
	m := versionRe.FindStringSubmatch(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if m == nil {
		return Version{}, false
	}
	var v Version
	for i, p := range []*int{&v.Major, &v.Minor, &v.Patch} {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, false
		}
		*p = n
	}
	return v, true
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer
// than b. ok is false when either string is not a version.
func CompareVersions(a, b string) (cmp int, ok bool) {
	va, okA := ParseVersion(a)
	vb, okB := ParseVersion(b)
	if !okA || !okB {
		return 0, false
	}
	for _, d := range [][2]int{{va.Major, vb.Major}, {va.Minor, vb.Minor}, {va.Patch, vb.Patch}} {
		switch {
		case d[0] > d[1]:
			return 1, true
		case d[0] < d[1]:
			return -1, true
		}
	}
	return 0, true
}
