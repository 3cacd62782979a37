// Package httpapi is the HTTP surface: the websocket upgrade
// endpoint, liveness/readiness healthchecks, Prometheus exposition, and
// the secondary driver-location ingest endpoint. Routing is gorilla/mux.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/transport"
)

// ReadyChecker is satisfied by whatever geo backend is wired; the default
// in-memory registry has nothing to check and is simply omitted.
type ReadyChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Transport *transport.Hub
	Producer  *ingest.Producer // nil when KAFKA_BROKERS is unset
	Ready     ReadyChecker     // nil when REDIS_ADDR is unset
	Logger    *slog.Logger

	router *mux.Router
}

func NewServer(t *transport.Hub, producer *ingest.Producer, ready ReadyChecker, logger *slog.Logger) *Server {
	s := &Server{Transport: t, Producer: producer, Ready: ready, Logger: logger, router: mux.NewRouter()}
	s.routes()
	s.registerMiddleware()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleLiveness).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleLiveness).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReadiness).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.router.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ready.Ping(ctx); err != nil {
			http.Error(w, "geo backend not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.Transport.Upgrade(w, r); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("websocket upgrade failed", "error", err)
		}
	}
}

// driverLocationRequest is the body of the secondary HTTP ingest path:
// a plain JSON post instead of a websocket frame.
type driverLocationRequest struct {
	ConnID string  `json:"connId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req driverLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ConnID == "" {
		http.Error(w, "connId is required", http.StatusBadRequest)
		return
	}
	if s.Producer == nil {
		if s.Logger != nil {
			s.Logger.Info("driver location ingest no-op: kafka not configured", "connId", req.ConnID)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	msg := ingest.LocationFixMessage{ConnID: req.ConnID, Lat: req.Lat, Lng: req.Lng, AtMs: time.Now().UnixMilli()}
	if err := s.Producer.Publish(msg); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("publish driver location failed", "connId", req.ConnID, "error", err)
		}
		http.Error(w, "publish failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
