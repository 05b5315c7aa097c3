package signalr

import (
	"fmt"
	"net/url"
	"strings"
)

// ReplaceScheme rewrites the scheme of u between http(s) and ws(s).
// When ws is true, http->ws and https->wss; when false, the inverse.
// A scheme that already matches the target family, or any other scheme,
// passes through unchanged.
func ReplaceScheme(rawURL string, ws bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("signalr: parse url %q: %w", rawURL, err)
	}
	u.Scheme = replaceSchemeString(u.Scheme, ws)
	return u.String(), nil
}

func replaceSchemeString(scheme string, ws bool) string {
	switch strings.ToLower(scheme) {
	case "http":
		if ws {
			return "ws"
		}
		return scheme
	case "https":
		if ws {
			return "wss"
		}
		return scheme
	case "ws":
		if !ws {
			return "http"
		}
		return scheme
	case "wss":
		if !ws {
			return "https"
		}
		return scheme
	default:
		return scheme
	}
}

// NegotiateURL strips any trailing slash from rawURL, appends "/negotiate",
// and coerces the scheme to http(s), preserving query and fragment.
func NegotiateURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("signalr: parse url %q: %w", rawURL, err)
	}
	u.Scheme = replaceSchemeString(u.Scheme, false)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	return u.String(), nil
}

// ConnectionURL sets (overwrites) the "id" query parameter to the given
// sequence of values and coerces the scheme to ws(s).
func ConnectionURL(rawURL string, ids []string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("signalr: parse url %q: %w", rawURL, err)
	}
	u.Scheme = replaceSchemeString(u.Scheme, true)

	q := u.Query()
	q.Del("id")
	for _, id := range ids {
		q.Add("id", id)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
