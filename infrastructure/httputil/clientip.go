package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the best-effort client IP address from the request. The
// rate limiter keys anonymous clients by this value, so forwarded headers are
// only honoured when the direct peer is plausibly our own ingress:
//
//   - direct peer on a private/loopback/link-local network: trust
//     X-Forwarded-For / X-Real-IP
//   - direct peer on the internet: ignore the spoofable forwarded headers
//     and use RemoteAddr
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	peer := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}

	parsedPeer := net.ParseIP(peer)
	trustForwarded := parsedPeer != nil &&
		(parsedPeer.IsPrivate() || parsedPeer.IsLoopback() || parsedPeer.IsLinkLocalUnicast())
	if !trustForwarded {
		return peer
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		// First hop in the chain is the original client.
		candidate := strings.TrimSpace(strings.Split(xff, ",")[0])
		if host, _, err := net.SplitHostPort(candidate); err == nil {
			candidate = host
		}
		if candidate != "" {
			return candidate
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if host, _, err := net.SplitHostPort(xri); err == nil {
			xri = host
		}
		if xri != "" {
			return xri
		}
	}

	return peer
}
