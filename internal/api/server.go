package api

import (
	"log/slog"
	"net/http"

	"github.com/dgallion1/mapread/internal/config"
	"github.com/dgallion1/mapread/internal/parser"
	"github.com/dgallion1/mapread/internal/pipeline"
	"github.com/dgallion1/mapread/internal/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the HTTP API server for mapread.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	reader       pipeline.MappingReader
	resolver     parser.EntityResolver
	schemas      *schema.Cache
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, r pipeline.MappingReader, resolver parser.EntityResolver, schemas *schema.Cache, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		reader:       r,
		resolver:     resolver,
		schemas:      schemas,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Get("/api/schemas", s.handleSchemas)
		r.Post("/api/mappings/read", s.handleRead)
		r.Post("/api/mappings/batch", s.handleBatch)
		r.Get("/api/mappings/batch/{jobID}", s.handleBatchStatus)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
