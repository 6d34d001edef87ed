package authapi

import (
	"net/http"
	"strconv"
	"time"

	"teamsync/cmd/internal/httpx"
)

// allowAttempt applies the per-IP signup/login throttle. It writes the 429
// itself and reports false when the request must stop.
func (h *Handler) allowAttempt(w http.ResponseWriter, r *http.Request, now time.Time) bool {
	if h.throttle == nil {
		return true
	}
	ip := httpx.ClientIP(r, h.cfg.TrustProxy)
	if ip == nil {
		return true
	}
	ok, retryAfter := h.throttle.Allow(ip.String(), now)
	if ok {
		return true
	}
	h.log.Warn("auth.throttle.reject", "ip", ip.String(), "path", r.URL.Path, "retry_after", retryAfter)
	writeRateLimited(w, retryAfter)
	return false
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
