// Package diag exposes a read-only HTTP status surface for the acquisition
// server: ring depth, subscriber count, sensor catalog, and uptime. This is
// deliberately not the command/data wire protocol (spec keeps that raw TCP);
// it is an operational side-channel for dashboards and health checks, built
// on the same go-chi/chi router the teacher uses in cmd/dacsrv.
package diag

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/dmgualb/HMC-T1/dataservice"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
)

// Status is the JSON body served at /status.
type Status struct {
	UptimeSeconds float64  `json:"uptime_seconds"`
	RingDepth     int      `json:"ring_depth"`
	RingWindowSec float64  `json:"ring_window_seconds"`
	Subscribers   int      `json:"subscribers"`
	Channels      []string `json:"channels"`
}

// Server wires the ring buffer, data service, and sensor catalog into a
// read-only chi router.
type Server struct {
	ring    *ringbuf.Buffer
	data    *dataservice.Service
	catalog *sensorcat.Catalog
	start   time.Time
}

// New constructs a Server. start is the process start time, passed in rather
// than taken with time.Now() here so callers control the uptime epoch.
func New(ring *ringbuf.Buffer, data *dataservice.Service, catalog *sensorcat.Catalog, start time.Time) *Server {
	return &Server{ring: ring, data: data, catalog: catalog, start: start}
}

// Router builds the chi router for this server, per cmd/dacsrv's
// chi.NewRouter()+middleware.Logger pattern.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/status", s.handleStatus)
	r.Get("/channels", s.handleChannels)
	r.Get("/healthz", s.handleHealthz)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		UptimeSeconds: time.Since(s.start).Seconds(),
		RingDepth:     s.ring.Len(),
		RingWindowSec: s.ring.WindowSeconds(),
		Subscribers:   s.data.SubscriberCount(),
		Channels:      s.catalog.Labels(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		http.Error(w, fmt.Sprintf("error encoding status to JSON, %q", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.catalog.Descriptors()); err != nil {
		http.Error(w, fmt.Sprintf("error encoding channels to JSON, %q", err), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ring.Len() == 0 {
		http.Error(w, "ring buffer empty", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
