package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type httpCounts struct {
	mu   sync.Mutex
	seen []int
}

func (c *httpCounts) ObserveHTTP(_ string, status int) {
	c.mu.Lock()
	c.seen = append(c.seen, status)
	c.mu.Unlock()
}

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
	}
}

func TestWithRequestLogging_LevelAndObserver(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := &httpCounts{}

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusInternalServerError) // superfluous, ignored
		_, _ = w.Write([]byte("nope"))
	}), log, obs)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/workspaces/x", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log: %v (%q)", err, buf.String())
	}
	if rec["level"] != "WARN" || rec["status"] != float64(404) || rec["status_class"] != "4xx" || rec["bytes"] != float64(4) {
		t.Fatalf("unexpected log record: %v", rec)
	}
	if len(obs.seen) != 1 || obs.seen[0] != http.StatusNotFound {
		t.Fatalf("observer saw %v", obs.seen)
	}
}

func TestLoggingResponseWriter_PreservesInterfaces(t *testing.T) {
	t.Parallel()

	var w http.ResponseWriter = &loggingResponseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, ok := w.(http.Hijacker); !ok {
		t.Fatalf("wrapper must implement http.Hijacker")
	}
	if _, ok := w.(http.Flusher); !ok {
		t.Fatalf("wrapper must implement http.Flusher")
	}
	// The recorder cannot hijack; the wrapper must report that instead of panicking.
	if _, _, err := w.(http.Hijacker).Hijack(); err == nil {
		t.Fatalf("expected hijack error from recorder")
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff: %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("missing frame options: %q", got)
	}
	if got := rr.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Fatalf("missing referrer policy: %q", got)
	}
}
