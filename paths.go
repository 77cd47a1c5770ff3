package carton

import (
	"path"
	"path/filepath"
	"strings"
)

// LatestVersion is the version alias an empty Version resolves to.
const LatestVersion = "latest"

// Sanitize maps every rune outside [A-Za-z0-9_-] to '_'. It is idempotent and
// is applied to every externally supplied path segment (bucket, key, version,
// upload id) before it touches the filesystem. This is the sole defense
// against path traversal: a sanitized segment can never contain a separator
// or a dot.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// StoragePath returns the slash-separated path of the reference relative to
// the storage root: sanitize(bucket)/sanitize(key)/sanitize(version or
// "latest"). It is purely deterministic and never reads or creates anything.
func (r ObjectRef) StoragePath() string {
	version := r.Version
	if version == "" {
		version = LatestVersion
	}
	return path.Join(Sanitize(r.Bucket), Sanitize(r.Key), Sanitize(version))
}

// Resolve joins the storage root with the reference's sanitized path.
func Resolve(root string, r ObjectRef) string {
	return filepath.Join(root, filepath.FromSlash(r.StoragePath()))
}
