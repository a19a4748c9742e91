package extractor

import (
	"net/url"
	"strings"
)

// Canonicalize normalizes a URL for identity purposes: the fragment is
// dropped and every query parameter whose name starts with utm_
// (case-insensitive) is removed. All other parameters keep their original
// relative order. The function is idempotent.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		var kept []string
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if pair == "" {
				continue
			}
			name := pair
			if i := strings.IndexByte(pair, '='); i >= 0 {
				name = pair[:i]
			}
			if strings.HasPrefix(strings.ToLower(name), "utm_") {
				continue
			}
			kept = append(kept, pair)
		}
		u.RawQuery = strings.Join(kept, "&")
	}

	return u.String()
}
