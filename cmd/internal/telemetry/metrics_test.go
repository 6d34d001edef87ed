package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestStatusClass(t *testing.T) {
	t.Parallel()
	cases := map[int]string{200: "2xx", 201: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 0: "other", 700: "other"}
	for in, want := range cases {
		if got := StatusClass(in); got != want {
			t.Fatalf("StatusClass(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestMetrics_CountersAndHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewWith(reg, reg)

	m.ObserveHTTP(http.MethodGet, 200)
	m.ObserveHTTP(http.MethodGet, 204)
	m.ObserveHTTP(http.MethodPost, 401)
	m.AuthOutcome("mandatory", "token_expired")
	m.ObservePassword("hash", 30*time.Millisecond)
	m.WSConnected()
	m.WSConnected()
	m.WSDisconnected()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`teamsync_http_requests_total{method="GET",status_class="2xx"} 2`,
		`teamsync_http_requests_total{method="POST",status_class="4xx"} 1`,
		`teamsync_auth_outcomes_total{mode="mandatory",outcome="token_expired"} 1`,
		`teamsync_password_hash_seconds_count{op="hash"} 1`,
		`teamsync_ws_connections 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveHTTP("GET", 200)
	m.AuthOutcome("optional", "anonymous")
	m.ObservePassword("verify", time.Millisecond)
	m.WSConnected()
	m.WSDisconnected()
	m.WSRejected("origin")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("nil metrics should 404, got %d", rec.Code)
	}
}
