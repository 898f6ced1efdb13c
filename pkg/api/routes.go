package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
			})
		})

		// Read endpoints. Anonymous access is allowed when auth is off or
		// anonymous_read is set.
		r.Group(func(r chi.Router) {
			if s.authEnabled() && !s.cfg.Server.Auth.AnonymousRead {
				r.Use(s.requireAuth)
			}

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Get("/runs/{runID}/skip-paths", s.handleRunSkipPaths)
			r.Get("/runs/{runID}/suppressed", s.handleSuppressedBugs)

			// Result listings accept filter and sort parameters in the
			// request body, so these are POSTs despite being reads.
			r.Post("/runs/{runID}/results", s.handleRunResults)
			r.Post("/runs/{runID}/results/count", s.handleRunResultCount)
			r.Post("/runs/{runID}/results/types", s.handleRunResultTypes)

			r.Get("/reports/{reportID}", s.handleGetReport)
			r.Get("/files/{fileID}/content", s.handleFileContent)

			r.Post("/diff/{baseRunID}/{newRunID}", s.handleDiffResults)
			r.Post("/diff/{baseRunID}/{newRunID}/count",
				s.handleDiffResultCount)
			r.Post("/diff/{baseRunID}/{newRunID}/types",
				s.handleDiffResultTypes)
		})

		// Write endpoints.
		r.Group(func(r chi.Router) {
			if s.authEnabled() {
				r.Use(s.requireAuth)
			}

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Post("/reports/{reportID}/suppress", s.handleSuppressBug)
			r.Delete("/reports/{reportID}/suppress", s.handleUnsuppressBug)
		})

		// Admin endpoints.
		r.Route("/admin", func(r chi.Router) {
			if s.authEnabled() {
				r.Use(s.requireAuth)
				r.Use(s.requireRole("admin"))
			}

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Delete("/runs", s.handleRemoveRuns)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
