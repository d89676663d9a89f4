package crawler

import (
	"net/url"
	"path/filepath"
	"strings"
)

// addressFilter decides which discovered addresses enter a frontier.
type addressFilter struct {
	// ignore are glob patterns matched against the address path.
	ignore []string
	// follow, when set, must match the address path.
	follow []string
}

// apply normalizes addrs, drops duplicates and the addresses rejected by
// the patterns. Order is preserved.
func (f addressFilter) apply(addrs []string) []string {
	if len(addrs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		n := normalizeURL(a)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if f.allows(n) {
			out = append(out, n)
		}
	}
	return out
}

// allows reports whether target passes the ignore and follow patterns.
// Ignore wins over follow.
func (f addressFilter) allows(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range f.ignore {
		if matchPattern(pattern, path) {
			return false
		}
	}
	if len(f.follow) == 0 {
		return true
	}
	for _, pattern := range f.follow {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

// normalizeURL removes the fragment, lowercases scheme and host and gives
// an empty path the root path, so that equivalent addresses dedup.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return u.String()
}

// matchPattern checks if a path matches a glob pattern.
//
// Examples:
//   - "/admin/*" matches "/admin", "/admin/users" and "/admin/a/b"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1"
func matchPattern(pattern, path string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	if ext, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(ext, ".") {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	if matched, err := filepath.Match(pattern, path); err == nil && matched {
		return true
	}
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		if matched, err := filepath.Match(pattern, filepath.Base(path)); err == nil && matched {
			return true
		}
	}
	return false
}
