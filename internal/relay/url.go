package relay

import (
	"net/url"
	"strconv"
	"strings"
)

// IsLocalHost reports whether a host is plainly local or private: exact
// "localhost", or the 127., 10., 192.168., 100. and 172.16.-172.31.
// prefixes. Such hosts get ws:// instead of wss://.
func IsLocalHost(host string) bool {
	host = strings.ToLower(host)
	if host == "localhost" {
		return true
	}

	for _, prefix := range []string{"127.", "10.", "192.168.", "100."} {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}

	if rest, ok := strings.CutPrefix(host, "172."); ok {
		if i := strings.Index(rest, "."); i > 0 {
			if octet, err := strconv.Atoi(rest[:i]); err == nil && octet >= 16 && octet <= 31 {
				return true
			}
		}
	}

	return false
}

// WebSocketURL builds a full connect URL from a configured endpoint. An
// explicit ws:// or wss:// scheme is used verbatim and http(s) maps onto its
// WebSocket counterpart; otherwise wss:// is assumed, downgraded to ws:// for
// local hosts. The query carries credentials and must never be logged
// unsanitized. The signal stream uses the same derivation with its own path.
func WebSocketURL(endpoint, path string, query url.Values) (string, error) {
	raw := endpoint
	if !strings.Contains(raw, "://") {
		host := raw
		if i := strings.IndexAny(host, ":/"); i >= 0 {
			host = host[:i]
		}
		scheme := "wss"
		if IsLocalHost(host) {
			scheme = "ws"
		}
		raw = scheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if path != "" {
		u.Path = path
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
