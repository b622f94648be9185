package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the engram HTTP API server.
type Server struct {
	db      *store.DB
	router  chi.Router
	engine  *engine.Router
	version string
	started time.Time
}

// New creates a new Server with the given database, lifecycle router, and
// version string.
func New(db *store.DB, eng *engine.Router, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/experiences", s.handleAddExperience)
		r.Get("/search", s.handleSearch)
		r.Get("/status", s.handleStatus)
		r.Get("/focus", s.handleFocus)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
