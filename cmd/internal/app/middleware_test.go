package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"campus/cmd/internal/capture"
	"campus/cmd/internal/media"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithCORS_PreflightAllowed(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins:   []string{"https://app.example.com"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := WithCORS(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Fatalf("next handler should not be called for preflight")
	}), cfg, log)

	req := httptest.NewRequest(http.MethodOptions, "/media/blob:01J0000000000000000000000", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Range")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin mismatch: %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("allow-credentials mismatch: %q", got)
	}
}

func TestWithCORS_DisallowedOrigin(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins: []string{"https://app.example.com"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	called := false
	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), cfg, log)

	req := httptest.NewRequest(http.MethodGet, "/media/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	if called {
		t.Fatalf("next handler must not be called for denied origin")
	}
}

func TestWithCORS_WildcardPortAllowed(t *testing.T) {
	cfg := Config{
		CORSAllowedOrigins: []string{"http://127.0.0.1:*"},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), cfg, log)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://127.0.0.1:55123")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:55123" {
		t.Fatalf("allow-origin mismatch: %q", got)
	}
}

func TestWithCORS_MediaRoute(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := media.NewStore(media.Options{Logger: log})
	art, err := store.Encode(context.Background(), capture.EncodeInput{
		CaptureID: "cap-cors",
		Chunks:    [][]byte{[]byte("0123"), []byte("456789")},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cfg := Config{
		CORSAllowedOrigins: []string{"https://app.example.com", "http://127.0.0.1:*"},
		CORSMaxAgeSeconds:  600,
	}
	h := WithCORS(store.Handler(mediaPath), cfg, log)
	path := mediaPath + art.SourceRef

	cases := []struct {
		name       string
		method     string
		origin     string
		header     map[string]string
		wantStatus int
		wantOrigin string
		wantBody   string
	}{
		{name: "range from allowed origin", method: http.MethodGet, origin: "https://app.example.com",
			header: map[string]string{"Range": "bytes=2-4"}, wantStatus: http.StatusPartialContent,
			wantOrigin: "https://app.example.com", wantBody: "234"},
		{name: "head from wildcard port", method: http.MethodHead, origin: "http://127.0.0.1:5173",
			wantStatus: http.StatusOK, wantOrigin: "http://127.0.0.1:5173"},
		{name: "preflight", method: http.MethodOptions, origin: "https://app.example.com",
			header:     map[string]string{"Access-Control-Request-Method": http.MethodGet, "Access-Control-Request-Headers": "Range"},
			wantStatus: http.StatusNoContent, wantOrigin: "https://app.example.com"},
		{name: "disallowed origin", method: http.MethodGet, origin: "https://evil.example.com",
			header: map[string]string{"Range": "bytes=0-1"}, wantStatus: http.StatusForbidden},
		{name: "no origin passes through", method: http.MethodGet, wantStatus: http.StatusOK, wantBody: "0123456789"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tc.method, path, nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status=%d want %d", rr.Code, tc.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow-origin=%q want %q", got, tc.wantOrigin)
			}
			if tc.wantBody != "" && rr.Body.String() != tc.wantBody {
				t.Fatalf("body=%q want %q", rr.Body.String(), tc.wantBody)
			}
			if tc.wantOrigin == "" {
				return
			}
			if exp := rr.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(exp, "Content-Range") {
				t.Fatalf("expose-headers=%q lacks Content-Range", exp)
			}
			switch tc.method {
			case http.MethodOptions:
				if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodGet) || !strings.Contains(got, http.MethodHead) {
					t.Fatalf("allow-methods=%q", got)
				}
				if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Range" {
					t.Fatalf("allow-headers=%q", got)
				}
				if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
					t.Fatalf("max-age=%q", got)
				}
			case http.MethodGet:
				if got := rr.Header().Get("Content-Range"); got != "bytes 2-4/10" {
					t.Fatalf("content-range=%q", got)
				}
			}
		})
	}
}

func TestWithSecurityHeaders(t *testing.T) {
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
