// Package api assembles the HTTP server: global middleware, the v1
// route tree, Prometheus metrics, and graceful shutdown.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/vscarpenter/gsd-task-manager-sub001/pkg/api/errors"
	v1 "github.com/vscarpenter/gsd-task-manager-sub001/pkg/api/v1"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cors"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// NewHandler wires the global middleware stack around the v1 routes.
func NewHandler(deps v1.Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		recoverJSON,
		middleware.Timeout(middlewareTimeout),
		cors.Middleware(cors.Options{
			AllowedOrigins: deps.Config.AllowedOrigins,
			Development:    !deps.Config.IsProduction(),
		}),
		metricsMiddleware,
	)

	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", v1.Router(deps))
	return r
}

// recoverJSON converts handler panics into the JSON {error} envelope.
// http.ErrAbortHandler is rethrown; aborted streams stay silent.
func recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rvr, debug.Stack())
				apierrors.WriteError(w, http.StatusInternalServerError,
					http.StatusText(http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Serve runs the server on address until ctx is canceled, then drains
// in-flight requests for up to shutdownTimeout.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
