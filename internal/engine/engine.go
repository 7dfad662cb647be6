// Package engine is the mission command surface. It serializes lifecycle
// transitions per mission and supervises one simulator per active mission.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"droneops-survey/internal/config"
	"droneops-survey/internal/fleet"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
	"droneops-survey/internal/logging"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/sim"
	"droneops-survey/internal/store"
	"droneops-survey/internal/telemetry"
)

// ErrUnknownMission is returned for ids the engine has never seen.
var ErrUnknownMission = errors.New("unknown mission")

// ErrClosed is returned by commands issued after Shutdown.
var ErrClosed = errors.New("engine shut down")

// MissionSpec is the request to create a mission.
type MissionSpec struct {
	Name            string             `json:"name,omitempty" yaml:"name"`
	CoverageArea    []geo.Coordinate   `json:"coverage_area" yaml:"coverage_area"`
	Pattern         flightpath.Pattern `json:"pattern_type" yaml:"pattern_type"`
	Altitude        float64            `json:"altitude" yaml:"altitude"`
	Speed           float64            `json:"speed" yaml:"speed"`
	OverlapPercent  float64            `json:"overlap_percent" yaml:"overlap_percent"`
	Sensor          *flightpath.Sensor `json:"sensor,omitempty" yaml:"sensor,omitempty"`
	PerimeterPasses int                `json:"perimeter_passes,omitempty" yaml:"perimeter_passes,omitempty"`
	BaseID          string             `json:"base_id" yaml:"base_id"`
}

// batteryRecorder is implemented by fleets that track the charge a drone
// returns with.
type batteryRecorder interface {
	SetBattery(droneID string, pct float64) error
}

// Deps are the collaborators of an Engine. Writer and Events may be nil.
type Deps struct {
	Store  store.Backend
	Fleet  fleet.Fleet
	Hub    *telemetry.Hub
	Writer sim.TelemetryWriter
	Events sim.EventWriter
	Now    func() time.Time
}

// Engine owns every mission known to this process.
type Engine struct {
	cfg    *config.Config
	store  store.Backend
	fleet  fleet.Fleet
	links  fleet.LinkMonitor
	hub    *telemetry.Hub
	paths  *flightpath.Cache
	writer sim.TelemetryWriter
	events sim.EventWriter
	gen    *telemetry.Generator
	now    func() time.Time

	ctx    context.Context // parent of every runner
	cancel context.CancelFunc

	mu       sync.RWMutex
	missions map[string]*entry
	closed   bool
}

// New creates an engine. ctx carries the logger and bounds every runner.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Engine {
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Hub == nil {
		deps.Hub = telemetry.NewHub(cfg.Hub.BufferSize)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		fleet:    deps.Fleet,
		hub:      deps.Hub,
		paths:    flightpath.NewCache(flightpath.NewGenerator(cfg.PathOptions()), cfg.PlanCacheSize, 0),
		writer:   deps.Writer,
		events:   deps.Events,
		gen:      telemetry.NewGenerator(cfg.ClusterID).WithClock(deps.Now),
		now:      deps.Now,
		missions: map[string]*entry{},
	}
	if lm, ok := deps.Fleet.(fleet.LinkMonitor); ok {
		e.links = lm
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return e
}

// Hub returns the telemetry hub missions publish to.
func (e *Engine) Hub() *telemetry.Hub { return e.hub }

// Preview generates the flight path spec would fly without creating a
// mission.
func (e *Engine) Preview(spec MissionSpec) (*flightpath.FlightPath, error) {
	m, err := e.newMission(spec)
	if err != nil {
		return nil, err
	}
	return e.generate(m)
}

// CreateMission validates spec and stores a new DRAFT mission.
func (e *Engine) CreateMission(ctx context.Context, spec MissionSpec) (mission.Mission, error) {
	m, err := e.newMission(spec)
	if err != nil {
		return mission.Mission{}, err
	}
	// Geometry and parameters are rejected here, not at start.
	if _, err := e.generate(m); err != nil {
		return mission.Mission{}, err
	}
	if err := e.store.SaveMission(ctx, m); err != nil {
		return mission.Mission{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return mission.Mission{}, ErrClosed
	}
	e.missions[m.ID] = &entry{e: e, m: m}
	e.mu.Unlock()

	logging.FromContext(ctx).Info("mission created", "mission_id", m.ID, "pattern", m.Pattern, "base_id", m.BaseID)
	return m.Clone(), nil
}

func (e *Engine) newMission(spec MissionSpec) (mission.Mission, error) {
	pattern, err := flightpath.ParsePattern(string(spec.Pattern))
	if err != nil {
		return mission.Mission{}, err
	}
	if _, ok := e.cfg.Base(spec.BaseID); !ok {
		return mission.Mission{}, &flightpath.InvalidParameterError{Param: "base_id", Value: spec.BaseID, Reason: "unknown base"}
	}
	sensor := e.cfg.Sensor
	if spec.Sensor != nil {
		sensor = *spec.Sensor
	}
	passes := spec.PerimeterPasses
	if passes == 0 {
		passes = e.cfg.Path.PerimeterPasses
	}
	return mission.Mission{
		ID:              uuid.NewString(),
		Name:            spec.Name,
		Status:          mission.StatusDraft,
		CoverageArea:    append([]geo.Coordinate(nil), spec.CoverageArea...),
		Pattern:         pattern,
		Altitude:        spec.Altitude,
		Speed:           spec.Speed,
		OverlapPercent:  spec.OverlapPercent,
		Sensor:          sensor,
		SensorPinned:    spec.Sensor != nil,
		PerimeterPasses: passes,
		BaseID:          spec.BaseID,
		CreatedAt:       e.now().UTC(),
		Version:         1,
	}, nil
}

func (e *Engine) generate(m mission.Mission) (*flightpath.FlightPath, error) {
	base, ok := e.cfg.Base(m.BaseID)
	if !ok {
		return nil, &flightpath.InvalidParameterError{Param: "base_id", Value: m.BaseID, Reason: "unknown base"}
	}
	return e.paths.Generate(m.Params(base.Location))
}

func (e *Engine) lookup(id string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMission, id)
	}
	return en, nil
}

// Get returns a snapshot of mission id.
func (e *Engine) Get(ctx context.Context, id string) (mission.Mission, error) {
	en, err := e.lookup(id)
	if err != nil {
		return mission.Mission{}, err
	}
	return en.snapshot(), nil
}

// List returns every mission ordered by creation time.
func (e *Engine) List(ctx context.Context) []mission.Mission {
	e.mu.RLock()
	out := make([]mission.Mission, 0, len(e.missions))
	for _, en := range e.missions {
		out = append(out, en.snapshot())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe opens a live telemetry stream for mission id. The stream of a
// mission that already ended is closed immediately.
func (e *Engine) Subscribe(id string) (*telemetry.Subscription, error) {
	en, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	sub := e.hub.Subscribe(id)
	if en.m.Status.Terminal() {
		e.hub.Unsubscribe(sub)
	}
	return sub, nil
}

// Unsubscribe releases a stream opened by Subscribe.
func (e *Engine) Unsubscribe(sub *telemetry.Subscription) { e.hub.Unsubscribe(sub) }

// Restore loads persisted missions. Missions that were IN_PROGRESS or PAUSED
// get a simulator again, continuing from their stored waypoint and battery.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	ms, err := e.store.ListMissions(ctx)
	if err != nil {
		return 0, err
	}
	log := logging.FromContext(ctx)
	resumed := 0
	for _, m := range ms {
		if m.Status.Active() {
			// Samples are keyed by version; never reissue one already stored.
			last, err := e.store.LastTelemetrySeq(ctx, m.ID)
			if err != nil {
				return resumed, err
			}
			if int64(last) > m.Version {
				log.Warn("mission behind its telemetry", "mission_id", m.ID, "version", m.Version, "last_seq", last)
				m.Version = int64(last)
			}
		}
		en := &entry{e: e, m: m}
		e.mu.Lock()
		if _, dup := e.missions[m.ID]; dup || e.closed {
			e.mu.Unlock()
			continue
		}
		e.missions[m.ID] = en
		e.mu.Unlock()

		if !m.Status.Active() {
			continue
		}
		if !validPath(m.FlightPath) {
			_ = en.Fail(ctx, &mission.SimulationFailure{Reason: mission.ReasonPersistence, Err: errors.New("stored mission has no flight path")})
			continue
		}
		if e.restoreRunner(ctx, en) {
			resumed++
			log.Info("mission restored", "mission_id", m.ID, "status", m.Status, "waypoint_index", m.CurrentWaypointIndex)
		}
	}
	return resumed, nil
}

// launch starts a runner for en. en.mu must be held.
func (e *Engine) launch(en *entry) {
	ctx, cancel := context.WithCancel(e.ctx)
	r := sim.NewRunner(en.m.Clone(), sim.SettingsFrom(e.cfg), sim.Deps{
		Hooks:  en,
		Store:  e.store,
		Hub:    e.hub,
		Writer: e.writer,
		Links:  e.links,
		Gen:    e.gen,
	})
	en.runner, en.cancel = r, cancel
	go r.Run(ctx)
}

// Shutdown stops every runner and closes all telemetry streams. Missions keep
// their current status so a later Restore resumes them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	entries := make([]*entry, 0, len(e.missions))
	for _, en := range e.missions {
		entries = append(entries, en)
	}
	e.mu.Unlock()

	e.cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, en := range entries {
		en.mu.Lock()
		r := en.runner
		en.mu.Unlock()
		if r == nil {
			continue
		}
		g.Go(func() error {
			select {
			case <-r.Done():
				return nil
			case <-gctx.Done():
				return fmt.Errorf("mission %s: %w", r.MissionID(), gctx.Err())
			}
		})
	}
	err := g.Wait()
	e.hub.Close()
	logging.FromContext(ctx).Info("engine stopped", "missions", len(entries))
	return err
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// emit records an applied transition on the event writer.
func (e *Engine) emit(ctx context.Context, cmd mission.Command, from mission.Status, m mission.Mission) {
	logging.FromContext(ctx).Info("mission transition",
		"mission_id", m.ID, "command", cmd, "from", from, "status", m.Status,
		"drone_id", m.AssignedDroneID, "progress", m.Progress, "battery", m.Battery)
	if e.events == nil {
		return
	}
	ev := telemetry.MissionEvent{
		ClusterID: e.cfg.ClusterID,
		MissionID: m.ID,
		DroneID:   m.AssignedDroneID,
		Command:   string(cmd),
		From:      string(from),
		To:        string(m.Status),
		Reason:    m.FailureReason,
		Version:   m.Version,
		Timestamp: e.now().UTC(),
	}
	if err := e.events.WriteEvent(ev); err != nil {
		logging.FromContext(ctx).Error("event write failed", "mission_id", m.ID, "err", err)
	}
}

// finish performs the side effects of a terminal transition: the drone goes
// back to the fleet and live streams end.
func (e *Engine) finish(ctx context.Context, m mission.Mission) {
	log := logging.FromContext(ctx)
	if m.AssignedDroneID != "" && e.fleet != nil {
		if br, ok := e.fleet.(batteryRecorder); ok {
			if err := br.SetBattery(m.AssignedDroneID, m.Battery); err != nil {
				log.Warn("record drone battery failed", "drone_id", m.AssignedDroneID, "err", err)
			}
		}
		if err := e.fleet.ReleaseDrone(ctx, m.AssignedDroneID); err != nil {
			log.Warn("release drone failed", "mission_id", m.ID, "drone_id", m.AssignedDroneID, "err", err)
		}
	}
	e.hub.CloseMission(m.ID)
}
