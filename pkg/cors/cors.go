// Package cors applies the origin allow-list, the fixed security header
// block, and preflight handling for every response.
package cors

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
)

// defaultDevPorts are the localhost ports accepted in development on top
// of the configured allow-list.
var defaultDevPorts = []string{"3000", "4173", "5173", "8080", "8788"}

// Options configures the middleware.
type Options struct {
	// AllowedOrigins is the production allow-list. The first entry is the
	// canonical origin echoed to disallowed callers.
	AllowedOrigins []string

	// Development additionally allows http://localhost and
	// http://127.0.0.1 on DevPorts.
	Development bool

	// DevPorts overrides the default development port list.
	DevPorts []string
}

// Middleware adds CORS and security headers to every response and
// terminates OPTIONS preflights.
func Middleware(opts Options) func(http.Handler) http.Handler {
	devPorts := opts.DevPorts
	if devPorts == nil {
		devPorts = defaultDevPorts
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			applyHeaders(w.Header(), origin, opts, devPorts)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func applyHeaders(h http.Header, origin string, opts Options, devPorts []string) {
	allowed := originAllowed(origin, opts, devPorts)
	switch {
	case allowed:
		h.Set("Access-Control-Allow-Origin", origin)
	case len(opts.AllowedOrigins) > 0:
		h.Set("Access-Control-Allow-Origin", opts.AllowedOrigins[0])
	}
	h.Add("Vary", "Origin")

	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Max-Age", "86400")

	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
}

// originAllowed checks the allow-list, then the development localhost
// rule.
func originAllowed(origin string, opts Options, devPorts []string) bool {
	if origin == "" {
		return false
	}
	if slices.Contains(opts.AllowedOrigins, origin) {
		return true
	}
	if !opts.Development {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" {
		return false
	}
	return slices.Contains(devPorts, u.Port())
}

// DevOrigins expands the development port list into full origins, for
// logging at startup.
func DevOrigins(devPorts []string) []string {
	if devPorts == nil {
		devPorts = defaultDevPorts
	}
	origins := make([]string, 0, 2*len(devPorts))
	for _, port := range devPorts {
		origins = append(origins,
			fmt.Sprintf("http://localhost:%s", port),
			fmt.Sprintf("http://127.0.0.1:%s", port),
		)
	}
	return origins
}
