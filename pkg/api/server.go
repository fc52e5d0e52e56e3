// Package api exposes node status and operator controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Server routes requests to handlers installed by the node. Handlers left
// nil answer 501.
type Server struct {
	listen string
	nodeID string
	role   string
	router *mux.Router
	server *http.Server
	ln     net.Listener
	hub    *Hub

	StatsHandler    http.HandlerFunc
	MembersHandler  http.HandlerFunc
	ShotHandler     http.HandlerFunc
	CoverHandler    http.HandlerFunc
	HitsHandler     http.HandlerFunc
	HitHandler      http.HandlerFunc
	LogsHandler     http.HandlerFunc
	PositionHandler http.HandlerFunc
}

func NewServer(nodeID, role, listen string) *Server {
	router := mux.NewRouter()
	s := &Server{
		listen: listen,
		nodeID: nodeID,
		role:   role,
		router: router,
		hub:    NewHub(),
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.identify)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.wrap("Stats", func() http.HandlerFunc { return s.StatsHandler })).Methods(http.MethodGet)
	s.router.HandleFunc("/members", s.wrap("Members", func() http.HandlerFunc { return s.MembersHandler })).Methods(http.MethodGet)

	s.router.HandleFunc("/ir", s.wrap("Shot", func() http.HandlerFunc { return s.ShotHandler })).Methods(http.MethodPost)
	s.router.HandleFunc("/cover", s.wrap("Cover", func() http.HandlerFunc { return s.CoverHandler })).Methods(http.MethodPost)

	s.router.HandleFunc("/hits", s.wrap("Hits", func() http.HandlerFunc { return s.HitsHandler })).Methods(http.MethodGet)
	s.router.HandleFunc("/hits/{id}", s.wrap("Hit", func() http.HandlerFunc { return s.HitHandler })).Methods(http.MethodGet)
	s.router.HandleFunc("/logs", s.wrap("Logs", func() http.HandlerFunc { return s.LogsHandler })).Methods(http.MethodGet)
	s.router.HandleFunc("/position", s.wrap("Position", func() http.HandlerFunc { return s.PositionHandler })).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/hits", s.hub.ServeWS)
}

func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Node-ID", s.nodeID)
		w.Header().Set("X-Node-Role", s.role)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) wrap(feature string, handler func() http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := handler(); h != nil {
			h(w, r)
			return
		}
		WriteError(w, http.StatusNotImplemented, feature+" handler not available on this node")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"node_id": s.nodeID,
		"role":    s.role,
		"status":  "healthy",
	})
}

// Hub returns the websocket hub behind /ws/hits.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	s.ln = ln
	log.WithField("addr", ln.Addr().String()).Info("[API] server started")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("[API] server stopped")
		}
	}()
	return nil
}

// Addr is the bound address, or empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down and disconnects websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	log.Info("[API] stopping server")
	return s.server.Shutdown(ctx)
}

// Var returns a path variable of the current route.
func Var(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("[API] write response")
	}
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// DecodeJSON reads a JSON body into v, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
