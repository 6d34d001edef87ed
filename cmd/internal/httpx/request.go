package httpx

import (
	"net"
	"net/http"
	"strings"
)

// BearerToken extracts the credential from an "Authorization: Bearer <t>" value.
// ok is false when the header is present but not in that shape.
func BearerToken(header string) (tok string, present, ok bool) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return "", false, false
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true, false
	}
	tok = strings.TrimSpace(parts[1])
	if tok == "" {
		return "", true, false
	}
	return tok, true, true
}

// ClientIP returns the peer address, or the first forwarded address when
// trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
