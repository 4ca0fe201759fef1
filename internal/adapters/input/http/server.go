package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"garage-bridge/internal/ports"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ServiceLister reports the HAP service types the accessory exposes.
type ServiceLister interface {
	ServiceTypes() []string
}

// Server is a read-only status API next to the HomeKit accessory.
type Server struct {
	door     ports.DoorPort
	services ServiceLister
	log      zerolog.Logger
	router   *mux.Router
}

type doorStatus struct {
	Current string  `json:"current"`
	Target  string  `json:"target"`
	Pending *string `json:"pending"`
}

type servicesStatus struct {
	Services []string `json:"services"`
}

func NewServer(door ports.DoorPort, services ServiceLister, log zerolog.Logger) *Server {
	s := &Server{
		door:     door,
		services: services,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/door", s.handleDoor).Methods(http.MethodGet)
	s.router.HandleFunc("/api/services", s.handleServices).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Status API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleDoor(w http.ResponseWriter, r *http.Request) {
	status := doorStatus{
		Current: s.door.CurrentValue().String(),
		Target:  s.door.TargetValue().String(),
	}
	if pending, ok := s.door.PendingTarget(); ok {
		p := pending.String()
		status.Pending = &p
	}
	s.writeJSON(w, status)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, servicesStatus{Services: s.services.ServiceTypes()})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
