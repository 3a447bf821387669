package cmn

import (
	"net/url"
	"strings"
)

// SystemPrefixes lists the path prefixes that bypass pod routing entirely
// (spec §4.D, §6).
var SystemPrefixes = []string{"/idp/", "/.well-known/", "/-/", "/api/"}

func IsSystemPath(path string) bool {
	for _, p := range SystemPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// reservedCachePathChars are filesystem-reserved characters replaced by "_"
// when deriving a cache file path from a request URL (spec §4.C).
const reservedCachePathChars = `<>:"|?*`

// CanonicalCachePath computes the canonical local cache file path for a
// request URL: strip query/fragment and leading "/", replace filesystem-
// reserved characters with "_". Mirrors a `URL.pathname`-like parse.
func CanonicalCachePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	p := strings.TrimPrefix(u.Path, "/")
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		if strings.ContainsRune(reservedCachePathChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// LongestPrefixMatch returns the index into prefixes of the longest entry
// that is a prefix of path, or -1 if none match. Shared by the node-pods
// index lookup (§4.A findNodeByResourcePath) and the pod directory lookup
// (§4.B findByResourceIdentifier) -- both spec'd as "longest-prefix wins".
func LongestPrefixMatch(path string, prefixes []string) int {
	best, bestLen := -1, -1
	for i, p := range prefixes {
		if strings.HasPrefix(path, p) && len(p) > bestLen {
			best, bestLen = i, len(p)
		}
	}
	return best
}
