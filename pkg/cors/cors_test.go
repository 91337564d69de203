package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testOptions() Options {
	return Options{
		AllowedOrigins: []string{"https://app.example.com", "https://beta.example.com"},
	}
}

func doRequest(t *testing.T, opts Options, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware(opts)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(method, "/api/sync/status", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAllowedOriginEchoed(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, testOptions(), http.MethodGet, "https://beta.example.com")
	assert.Equal(t, "https://beta.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestDisallowedOriginGetsCanonical(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, testOptions(), http.MethodGet, "https://evil.example.com")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDevelopmentLocalhost(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Development = true

	rec := doRequest(t, opts, http.MethodGet, "http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doRequest(t, opts, http.MethodGet, "http://127.0.0.1:3000")
	assert.Equal(t, "http://127.0.0.1:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	// Port not in the development list.
	rec = doRequest(t, opts, http.MethodGet, "http://localhost:9999")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Production never allows localhost.
	rec = doRequest(t, testOptions(), http.MethodGet, "http://localhost:5173")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// https on localhost is not a dev origin either.
	rec = doRequest(t, opts, http.MethodGet, "https://localhost:5173")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaderBlock(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, testOptions(), http.MethodGet, "https://app.example.com")
	h := rec.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.NotEmpty(t, h.Get("Content-Security-Policy"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", h.Get("Strict-Transport-Security"))
	assert.Equal(t, "strict-origin-when-cross-origin", h.Get("Referrer-Policy"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", h.Get("Cache-Control"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", h.Get("Access-Control-Max-Age"))
}

func TestPreflightTerminates(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, testOptions(), http.MethodOptions, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, rec.Body.String())
}
