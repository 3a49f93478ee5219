package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/latsforge/latsforge/internal/config"
	"github.com/latsforge/latsforge/internal/lats"
)

const serviceVersion = "0.1.0"

// Server is the HTTP surface for the search service: five endpoints under
// /api/v1/lats, backed by one long-lived MCTS Controller and session cache.
type Server struct {
	config     *config.Config
	controller *lats.Controller
	sessions   *lats.ContextManager
	startedAt  time.Time
}

// NewServer wires a server around an already-constructed controller and
// the session cache it shares.
func NewServer(cfg *config.Config, controller *lats.Controller, sessions *lats.ContextManager) *Server {
	return &Server{
		config:     cfg,
		controller: controller,
		sessions:   sessions,
		startedAt:  time.Now(),
	}
}

// Start blocks serving the configured routes on port.
func (s *Server) Start(port int) error {
	router := s.setupRoutes()
	addr := fmt.Sprintf(":%d", port)
	log.Info("starting API server", "addr", addr)
	return http.ListenAndServe(addr, router)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	v1 := router.PathPrefix("/api/v1/lats").Subrouter()
	v1.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	v1.HandleFunc("/session/{id}", s.handleGetSession).Methods(http.MethodGet)
	v1.HandleFunc("/session/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	return router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   serviceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}
