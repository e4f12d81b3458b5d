// Package web serves the irrigation HTTP API and a small status page.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/schedule"
	"github.com/sweeney/irrigationd/internal/station"
	"github.com/sweeney/irrigationd/internal/status"
)

// Stations is the station control surface exposed over HTTP.
type Stations interface {
	Stations() []station.Info
	Has(id string) bool
	Station(id string) (station.Info, error)
	Status(id string) (station.State, error)
	Switch(ctx context.Context, id string, on bool, d time.Duration) error
}

// Schedules is the schedule engine surface exposed over HTTP.
type Schedules interface {
	List() []schedule.Entry
	Get(name string) (schedule.Entry, bool)
	Create(name, deviceID string) (schedule.Entry, error)
	Update(ctx context.Context, ent schedule.Entry) error
	Delete(ctx context.Context, name string) error
	Run(ctx context.Context, name string) error
	CountForDevice(deviceID string) int
	Jobs() []schedule.JobInfo
}

// EventLog answers event history queries.
type EventLog interface {
	Query(ctx context.Context, q events.Query) ([]events.Event, error)
}

// Deps are the services a Server reads and drives.
type Deps struct {
	Stations  Stations
	Schedules Schedules
	Events    EventLog
	Tracker   *status.Tracker
}

// Server serves the API and status page over HTTP.
type Server struct {
	log        zerolog.Logger
	httpServer *http.Server
	deps       Deps
}

// New creates a Server listening on addr.
func New(addr string, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		log:  log.With().Str("component", "web").Logger(),
		deps: deps,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	c := r.PathPrefix("/controller").Subrouter()
	c.HandleFunc("/stations", s.listStations).Methods(http.MethodGet)
	c.HandleFunc("/stations/{id}/status", s.stationStatus).Methods(http.MethodGet)
	c.HandleFunc("/stations/{id}/operation", s.operateStation).Methods(http.MethodPut)

	r.HandleFunc("/schedules", s.listSchedules).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{name}", s.getSchedule).Methods(http.MethodGet)
	r.HandleFunc("/schedules/{name}", s.putSchedule).Methods(http.MethodPut)
	r.HandleFunc("/schedules/{name}", s.deleteSchedule).Methods(http.MethodDelete)
	r.HandleFunc("/schedules/{name}/run", s.runSchedule).Methods(http.MethodPost)
	r.HandleFunc("/schedules/{deviceId}/{name}/new", s.newSchedule).Methods(http.MethodGet)

	r.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/events", s.queryEvents).Methods(http.MethodGet)

	r.Use(s.logRequests)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) counts() status.Counts {
	var c status.Counts
	for _, st := range s.deps.Stations.Stations() {
		c.Stations++
		if st.State == station.StateOn {
			c.StationsOn++
		}
	}
	c.Schedules = len(s.deps.Schedules.List())
	c.Jobs = len(s.deps.Schedules.Jobs())
	return c
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page := indexPage{
		Snapshot: s.deps.Tracker.Snapshot(s.counts()),
		Stations: s.deps.Stations.Stations(),
		Jobs:     s.deps.Schedules.Jobs(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, page); err != nil {
		s.log.Error().Err(err).Msg("render status page")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.deps.Tracker.Snapshot(s.counts())))
}
