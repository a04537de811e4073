package fixture

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/getmockd/mockcore/pkg/mock"
)

// Fingerprint hashes the parts of a request that identify it for replay: the
// method, the normalised path, the canonical query and the named header
// subset. Header names are case-insensitive; header and query values are
// order-insensitive.
func Fingerprint(req *mock.Request, headers []string) string {
	h := xxhash.New()
	_, _ = h.WriteString(strings.ToUpper(req.Method))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(NormalizePath(req.Path))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(CanonicalQuery(req.Query))
	_, _ = h.WriteString("\x00")

	names := make([]string, 0, len(headers))
	for _, name := range headers {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), req.Header.Values(name)...)
		sort.Strings(values)
		_, _ = h.WriteString(name)
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(strings.Join(values, ","))
		_, _ = h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// NormalizePath cleans p and strips any trailing slash.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// CanonicalQuery encodes q with keys and each key's values sorted.
func CanonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	sorted := make(url.Values, len(q))
	for k, v := range q {
		vs := append([]string(nil), v...)
		sort.Strings(vs)
		sorted[k] = vs
	}
	return sorted.Encode()
}

// routeSlug maps a route id to a directory-safe name. A short hash keeps two
// routes that slugify alike apart.
func routeSlug(route string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(route) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return fmt.Sprintf("%s-%08x", slug, uint32(xxhash.Sum64String(route)))
}
