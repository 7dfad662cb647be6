// Package admin exposes the mission command surface over HTTP and streams
// live telemetry over WebSocket.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"droneops-survey/internal/engine"
	"droneops-survey/internal/fleet"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/logging"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/store"
)

const (
	requestTimeout = 30 * time.Second
	writeTimeout   = 5 * time.Second
	retryAfter     = "1"
)

// FleetView is the fleet as seen by /fleet. MarkLost reports a drone whose
// link is gone; its mission fails on the next simulator tick.
type FleetView interface {
	Drones() []fleet.Drone
	Health() []fleet.BaseHealth
	MarkLost(droneID string) error
}

type Server struct {
	Engine    *engine.Engine
	Fleet     FleetView
	ClusterID string
	tpl       *template.Template
}

func NewServer(e *engine.Engine, f FleetView, clusterID string) *Server {
	tpl := template.Must(template.New("index").Funcs(template.FuncMap{"pct": formatPct}).Parse(indexHTML))
	return &Server{Engine: e, Fleet: f, ClusterID: clusterID, tpl: tpl}
}

// Router returns the configured chi router.
func (s *Server) Router(log *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	timeout := middleware.Timeout(requestTimeout)
	r.With(timeout).Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.With(timeout).Get("/fleet", s.handleFleet)
	r.With(timeout).Post("/fleet/drones/{id}/lost", s.handleDroneLost)
	r.With(timeout).Post("/plans/preview", s.handlePreview)
	r.Route("/missions", func(r chi.Router) {
		r.With(timeout).Get("/", s.handleList)
		r.With(timeout).Post("/", s.handleCreate)
		r.With(timeout).Get("/{id}", s.handleGet)
		r.With(timeout).Post("/{id}/{command}", s.handleCommand)
		// Streams outlive the request timeout.
		r.Get("/{id}/telemetry", s.handleTelemetry)
	})
	return r
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	log := logging.FromContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(log),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("admin server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			l := log.With("request_id", middleware.GetReqID(r.Context()))
			next.ServeHTTP(ww, r.WithContext(logging.NewContext(r.Context(), l)))
			l.Debug("request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
		})
	}
}

type errorBody struct {
	Error   string           `json:"error"`
	Mission *mission.Mission `json:"mission,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps command surface errors to HTTP status codes.
func statusFor(err error) int {
	var (
		geomErr  *flightpath.InvalidGeometryError
		paramErr *flightpath.InvalidParameterError
		transErr *mission.InvalidTransitionError
		persErr  *store.PersistenceError
	)
	switch {
	case errors.As(err, &geomErr), errors.As(err, &paramErr):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownMission), errors.Is(err, store.ErrNotFound), errors.Is(err, fleet.ErrUnknownDrone):
		return http.StatusNotFound
	case errors.As(err, &transErr):
		return http.StatusConflict
	case errors.Is(err, fleet.ErrNoDroneAvailable), errors.As(err, &persErr), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error, m *mission.Mission) {
	status := statusFor(err)
	var persErr *store.PersistenceError
	if errors.As(err, &persErr) || errors.Is(err, fleet.ErrNoDroneAvailable) {
		w.Header().Set("Retry-After", retryAfter)
	}
	if m != nil && m.ID == "" {
		m = nil
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Mission: m})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &flightpath.InvalidParameterError{Param: "body", Value: r.URL.Path, Reason: err.Error()}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cluster_id": s.ClusterID})
}

func (s *Server) handleFleet(w http.ResponseWriter, r *http.Request) {
	if s.Fleet == nil {
		writeJSON(w, http.StatusOK, map[string]any{"bases": []fleet.BaseHealth{}, "drones": []fleet.Drone{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bases": s.Fleet.Health(), "drones": s.Fleet.Drones()})
}

func (s *Server) handleDroneLost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.Fleet == nil {
		writeError(w, fmt.Errorf("%w: %s", fleet.ErrUnknownDrone, id), nil)
		return
	}
	if err := s.Fleet.MarkLost(id); err != nil {
		writeError(w, err, nil)
		return
	}
	logging.FromContext(r.Context()).Warn("drone reported lost", "drone_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"drone_id": id, "state": fleet.StateLost})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var spec engine.MissionSpec
	if err := decode(r, &spec); err != nil {
		writeError(w, err, nil)
		return
	}
	path, err := s.Engine.Preview(spec)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.List(r.Context()))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec engine.MissionSpec
	if err := decode(r, &spec); err != nil {
		writeError(w, err, nil)
		return
	}
	m, err := s.Engine.CreateMission(r.Context(), spec)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	w.Header().Set("Location", "/missions/"+m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, err := s.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var op func(context.Context, string) (mission.Mission, error)
	switch mission.Command(chi.URLParam(r, "command")) {
	case mission.CommandSchedule:
		op = s.Engine.Schedule
	case mission.CommandStart:
		op = s.Engine.Start
	case mission.CommandPause:
		op = s.Engine.Pause
	case mission.CommandResume:
		op = s.Engine.Resume
	case mission.CommandAbort:
		op = s.Engine.Abort
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown command " + chi.URLParam(r, "command")})
		return
	}
	m, err := op(r.Context(), id)
	if err != nil {
		writeError(w, err, &m)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleTelemetry streams samples of one mission as JSON messages. The
// socket is closed normally when the mission ends.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.Engine.Subscribe(id)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	defer s.Engine.Unsubscribe(sub)

	log := logging.FromContext(r.Context()).With("mission_id", id)
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer c.CloseNow()
	ctx := c.CloseRead(r.Context())

	for {
		select {
		case smp, ok := <-sub.C:
			if !ok {
				c.Close(websocket.StatusNormalClosure, "mission ended")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, smp)
			cancel()
			if err != nil {
				log.Debug("telemetry stream closed", "err", err, "dropped", sub.Dropped())
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		ClusterID string
		Missions  []mission.Mission
		Bases     []fleet.BaseHealth
	}{
		ClusterID: s.ClusterID,
		Missions:  s.Engine.List(r.Context()),
	}
	if s.Fleet != nil {
		data.Bases = s.Fleet.Health()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		logging.FromContext(r.Context()).Error("render index failed", "err", err)
	}
}
