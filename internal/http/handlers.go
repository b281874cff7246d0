package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/ride-relay/internal/models"
)

// isoMillis matches the millisecond ISO-8601 timestamps the mobile apps parse.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// DriverSource is the read side of the driver registry.
type DriverSource interface {
	Snapshot() map[string]models.DriverPosition
	Len() int
}

// ConnectionCounter reports open relay connections.
type ConnectionCounter interface {
	ActiveConnections() int
}

// Server is the read-only introspection surface of the relay.
type Server struct {
	drivers DriverSource
	conns   ConnectionCounter
	logger  zerolog.Logger
	mux     *mux.Router
	now     func() time.Time
}

func NewServer(drivers DriverSource, conns ConnectionCounter, logger zerolog.Logger) *Server {
	s := &Server{
		drivers: drivers,
		conns:   conns,
		logger:  logger.With().Str("component", "http").Logger(),
		mux:     mux.NewRouter(),
		now:     time.Now,
	}
	s.routes()
	s.registerMiddleware()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/drivers", s.handleDrivers).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type healthResponse struct {
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	ActiveConnections int    `json:"activeConnections"`
	ActiveDrivers     int    `json:"activeDrivers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, healthResponse{
		Status:            "healthy",
		Timestamp:         s.now().UTC().Format(isoMillis),
		ActiveConnections: s.conns.ActiveConnections(),
		ActiveDrivers:     s.drivers.Len(),
	})
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

type driversResponse struct {
	Drivers   int                 `json:"drivers"`
	Locations map[string]location `json:"locations"`
}

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	snap := s.drivers.Snapshot()
	resp := driversResponse{Drivers: len(snap), Locations: make(map[string]location, len(snap))}
	for id, p := range snap {
		resp.Locations[id] = location{Latitude: p.Latitude, Longitude: p.Longitude, Timestamp: p.UpdatedAt.UnixMilli()}
	}
	s.writeJSON(w, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("write response failed")
	}
}
