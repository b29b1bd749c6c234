package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/logging"
)

// Server is the recall HTTP sidecar.
type Server struct {
	eng     *engine.Engine
	router  chi.Router
	version string
	started time.Time
	log     *slog.Logger
}

// New creates a Server over a wired engine.
func New(eng *engine.Engine, version string, log *slog.Logger) *Server {
	s := &Server{
		eng:     eng,
		version: version,
		started: time.Now(),
		log:     logging.OrNop(log),
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
		r.Post("/events", s.handleEvent)

		r.Get("/memories", s.handleListMemories)
		r.Post("/memories", s.handleStoreMemory)
		r.Get("/memories/count", s.handleCountMemories)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Delete("/memories/{id}", s.handleDeleteMemory)

		r.Get("/search", s.handleSearch)
		r.Get("/temporal", s.handleTemporal)
		r.Get("/facts", s.handleFacts)
		r.Get("/sessions", s.handleSessions)
		r.Get("/sessions/{sessionID}", s.handleSession)
		r.Get("/sessions/{sessionID}/boundaries", s.handleBoundaries)

		r.Post("/purge", s.handlePurge)
		r.Post("/consolidate", s.handleConsolidate)
		r.Post("/compress", s.handleCompress)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.eng.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"db":        dbOK,
		"db_path":   s.eng.DB.Path,
		"full_text": s.eng.DB.FullTextReady(),
		"sessions":  s.eng.Capture.ActiveSessions(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
