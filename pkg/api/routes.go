package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRouter initializes the Chi router and defines the collection endpoints.
func SetupRouter(api *API, token string, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredRequestLogger(api.Logger))
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	// Basic health check endpoint, unauthenticated
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(token, api.Logger))

		r.Get("/info", api.HandleInfo)

		r.Route("/projects/{project}", func(r chi.Router) {
			r.Route("/runs", func(r chi.Router) {
				r.Post("/", api.HandleCreateRun)
				r.Get("/{runId}", api.HandleGetRun)
				r.Put("/{runId}", api.HandleUpdateRun)
				r.Post("/{runId}/results", api.HandleCreateResult)
			})
			r.Post("/artifacts/{ownerId}", api.HandleUploadArtifact)
		})
	})

	return r
}
