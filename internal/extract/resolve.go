package extract

import (
	"net/url"
	"strings"
)

// Resolve turns an image source found in markup into a fetchable URL.
// Protocol-relative sources get an https scheme, root-relative sources are
// joined against pageURL, and anything else is returned unchanged. Inputs that
// cannot be resolved are passed through so the plausibility filter rejects them.
func Resolve(rawSrc, pageURL string) string {
	switch {
	case strings.HasPrefix(rawSrc, "//"):
		return "https:" + rawSrc
	case strings.HasPrefix(rawSrc, "/"):
		base, err := url.Parse(pageURL)
		if err != nil {
			return rawSrc
		}
		ref, err := url.Parse(rawSrc)
		if err != nil {
			return rawSrc
		}
		return base.ResolveReference(ref).String()
	default:
		return rawSrc
	}
}

// isAbsoluteHTTP reports whether u parses as an http(s) URL with a host.
func isAbsoluteHTTP(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
