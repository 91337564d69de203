package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/vscarpenter/gsd-task-manager-sub001/pkg/api/errors"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/auth"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/kv"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/ratelimit"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/sync"
)

// Deps bundles the services the route tree dispatches to.
type Deps struct {
	Config   *config.Config
	Store    storage.Store
	Flow     *auth.Flow
	Tokens   *auth.TokenService
	Engine   *sync.Service
	Limiter  *ratelimit.Limiter
	Sessions *kv.SessionStore
}

// Router builds the versionless API route tree: health, the OAuth login
// flow, and the authenticated sync surface. Rate limiting applies per
// bucket; auth applies per group.
func Router(d Deps) http.Handler {
	authR := &authRoutes{flow: d.Flow, tokens: d.Tokens, users: d.Store.Users()}
	syncR := &syncRoutes{svc: d.Engine}
	devR := &deviceRoutes{devices: d.Store.Devices(), sessions: d.Sessions}

	requireAuth := auth.Middleware(d.Tokens)
	eh := apierrors.ErrorHandler

	r := chi.NewRouter()

	// Errors are JSON everywhere, including chi's fallbacks.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", getHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Public login surface, throttled by the auth bucket.
			r.Group(func(r chi.Router) {
				r.Use(d.Limiter.Middleware(ratelimit.BucketAuth))
				r.Get("/oauth/{provider}/start", eh(authR.startOAuth))
				r.Get("/oauth/callback", authR.oauthCallback)
				r.Post("/oauth/callback", authR.oauthCallback)
				r.Get("/oauth/result", eh(authR.getOAuthResult))
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/logout", eh(authR.logout))
				r.With(d.Limiter.Middleware(ratelimit.BucketRefresh)).
					Post("/refresh", eh(authR.refresh))
				r.Get("/encryption-salt", eh(authR.getEncryptionSalt))
				r.Post("/encryption-salt", eh(authR.setEncryptionSalt))
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			syncLimited := d.Limiter.Middleware(ratelimit.BucketSync)
			r.With(syncLimited).Post("/sync/push", eh(syncR.push))
			r.With(syncLimited).Post("/sync/pull", eh(syncR.pull))
			r.Post("/sync/resolve", eh(syncR.resolve))
			r.Get("/sync/status", eh(syncR.status))
			r.Get("/stats", eh(syncR.stats))
			r.Get("/devices", eh(devR.listDevices))
			r.Delete("/devices/{id}", eh(devR.revokeDevice))
		})
	})

	return r
}
