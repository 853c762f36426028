// Package server provides the HTTP server for the skeleton recording harness.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/skeletrain/internal/app"
	"github.com/ayusman/skeletrain/internal/server/api"
	"github.com/ayusman/skeletrain/internal/store"
)

// Session is the running sensor session served over HTTP. *app.App implements it.
type Session interface {
	api.Session
	Previewer
	Subscriber
}

// Previewer renders the latest depth frame as a JPEG.
type Previewer interface {
	Preview() ([]byte, error)
}

// Subscriber publishes a snapshot after every sensor frame.
type Subscriber interface {
	Subscribe() (<-chan app.Snapshot, func())
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Session   Session
}

// Server represents the HTTP server for the recording harness.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		poseHandler := api.NewPoseHandler(s.config.Store)
		recordingsHandler := api.NewRecordingsHandler(s.config.Store)

		// /api/poses/{id}/recordings goes to the recordings handler
		poseRouter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/recordings") {
				recordingsHandler.ServeHTTP(w, r)
				return
			}
			poseHandler.ServeHTTP(w, r)
		})

		s.mux.Handle("/api/poses", poseRouter)
		s.mux.Handle("/api/poses/", poseRouter)
	}

	if s.config.Session != nil {
		sessionHandler := api.NewSessionHandler(s.config.Session)
		s.mux.Handle("/api/users", sessionHandler)
		s.mux.Handle("/api/users/", sessionHandler)
		s.mux.Handle("/api/label", sessionHandler)
		s.mux.Handle("/api/record", sessionHandler)

		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Session))
		s.mux.Handle("/api/skeleton", NewSkeletonHandler(s.config.Session))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Session != nil {
		snap := s.config.Session.Snapshot()
		response["frames"] = snap.Frame
		response["users"] = len(snap.Users)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
