// Package server exposes the tracker core over HTTP. Routing and DTO
// mapping live here; all invariants are enforced by the registry and authz
// packages underneath.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tracklab/tracklab/pkg/authz"
	"github.com/tracklab/tracklab/pkg/registry"
)

// Server bundles the handlers' dependencies.
type Server struct {
	service *registry.Service
	acl     *authz.Engine
}

// New creates a Server.
func New(service *registry.Service, acl *authz.Engine) *Server {
	return &Server{service: service, acl: acl}
}

// Routes builds the chi router for the tracker API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Remote-User"},
	}))
	r.Use(authz.IdentityMiddleware())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Post("/", s.createProjectHandler)

		r.Route("/{project}", func(r chi.Router) {
			r.Get("/", s.getProjectHandler)

			r.Get("/permissions", s.getPermissionsHandler)
			r.Put("/permissions", s.putPermissionsHandler)
			r.Delete("/permissions", s.deletePermissionsHandler)

			r.Post("/experiments", s.createExperimentHandler)
			r.Get("/experiments", s.listExperimentsHandler)

			r.Post("/runs", s.createRunHandler)
			r.Get("/runs", s.listRunsHandler)
			r.Route("/runs/{run}", func(r chi.Router) {
				r.Get("/", s.getRunHandler)
				r.Patch("/", s.updateRunHandler)
				r.Post("/artifacts", s.attachArtifactHandler)
				r.Get("/artifacts", s.listRunArtifactsHandler)
			})

			r.Route("/artifacts/{artifact}", func(r chi.Router) {
				r.Get("/", s.getArtifactHandler)
				r.Put("/files/{fileName}", s.uploadArtifactFileHandler)
				r.Get("/files/{fileName}", s.downloadArtifactFileHandler)
			})

			r.Post("/validation-sets", s.createValidationSetHandler)
			r.Route("/validation-sets/{validationSet}", func(r chi.Router) {
				r.Get("/", s.getValidationSetHandler)
				r.Put("/files/{fileName}", s.uploadValidationSetFileHandler)
				r.Get("/files/{fileName}", s.downloadValidationSetFileHandler)
			})
		})
	})

	return r
}
