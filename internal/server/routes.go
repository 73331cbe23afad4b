package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/docpilot/docpilot/internal/errors"
	"github.com/docpilot/docpilot/internal/observability"
	"github.com/docpilot/docpilot/internal/server/handlers"
	servermw "github.com/docpilot/docpilot/internal/server/middleware"
)

// maxJSONBodyBytes bounds JSON request bodies. Uploads use MaxUploadBytes.
const maxJSONBodyBytes = 1 << 20

func (s *Server) registerRoutes() {
	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/v1", func(r chi.Router) {
		if s.opts.Answers != nil || s.opts.Documents != nil {
			s.registerRAGRoutes(r)
		}
		if s.opts.Throttles != nil {
			s.registerAdminRoutes(r)
		}
	})
}

func (s *Server) registerRAGRoutes(r chi.Router) {
	h := &handlers.RAG{
		Answers:        s.opts.Answers,
		Documents:      s.opts.Documents,
		MaxUploadBytes: s.opts.MaxUploadBytes,
	}

	jsonBody := r.With(servermw.MaxBodyBytes(maxJSONBodyBytes))

	if h.Answers != nil {
		r.Get("/generate", h.Generate)
		jsonBody.Post("/generate", h.Generate)
	}
	if h.Documents == nil {
		return
	}

	r.Get("/collections", h.ListCollections)
	jsonBody.Post("/collections", h.CreateCollection)

	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.AddDocument)
	r.Get("/documents/{id}", h.DownloadDocument)
	r.Get("/documents/{id}/{name}", h.DownloadDocument)

	r.Get("/query", h.Query)
	jsonBody.Post("/query", h.Query)
}

func (s *Server) registerAdminRoutes(r chi.Router) {
	logger := observability.ServerLogger
	token := strings.TrimSpace(s.opts.AdminToken)
	if token == "" {
		if logger != nil {
			logger.Debug("Throttle admin endpoints disabled (no admin token set)")
		}
		return
	}

	h := &handlers.Throttles{Registry: s.opts.Throttles}
	r.Route("/admin/throttle", func(r chi.Router) {
		r.Use(requireBearer(token))
		r.Use(servermw.MaxBodyBytes(maxJSONBodyBytes))
		r.Get("/", h.List)
		r.Post("/abort", h.Abort)
		r.Put("/{name}", h.Toggle)
	})

	if logger != nil {
		logger.Info("Throttle admin endpoints enabled",
			zap.String("path", "/v1/admin/throttle"),
			zap.String("auth", "bearer token"))
	}
}

func requireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				HandleError(w, r, apperrors.NewUnauthorizedError("a valid admin bearer token is required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
