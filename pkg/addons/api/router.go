package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-addons/pkg/addons"
)

// NewRouter mounts the add-on and cache routes. When tokenAuth is set,
// bearer tokens are verified on every request and required on writes.
func NewRouter(store *addons.Store, perms addons.Permissions, tokenAuth *jwtauth.JWTAuth, logger *slog.Logger) http.Handler {
	addonHandler := NewAddonHandler(store)
	cacheHandler := NewCacheHandler(store.Cache(), perms)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	if tokenAuth != nil {
		r.Use(jwtauth.Verifier(tokenAuth))
	}
	r.Use(RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/addons", addonHandler.Routes())
		r.Mount("/cache", cacheHandler.Routes())

		r.Group(func(r chi.Router) {
			if tokenAuth != nil {
				r.Use(jwtauth.Authenticator)
			}
			r.Mount("/admin/addons", addonHandler.WriteRoutes())
			r.Mount("/admin/cache", cacheHandler.WriteRoutes())
		})
	})

	return r
}
