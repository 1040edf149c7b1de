package channel

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL turns a backend base URL into the push endpoint address. http
// and https are mapped to ws and wss; a bare host gets the default /ws path.
func ResolveURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
