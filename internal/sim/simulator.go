// Per-mission flight simulator and telemetry writers
package sim

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"droneops-survey/internal/config"
	"droneops-survey/internal/fleet"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/telemetry"
)

// TelemetryWriter is an interface to support different output writers.
type TelemetryWriter interface {
	Write(telemetry.Sample) error
}

// EventWriter receives applied mission lifecycle transitions.
type EventWriter interface {
	WriteEvent(telemetry.MissionEvent) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.Sample) error
}

// ErrNotRunning is returned by Hooks when the mission is not IN_PROGRESS,
// e.g. because a pause won the race against the tick.
var ErrNotRunning = errors.New("mission not running")

// ErrMissionEnded is returned by Hooks once the mission reached a terminal
// status. The runner stops when it sees it.
var ErrMissionEnded = errors.New("mission ended")

// Progress is the state a tick wants to commit to its mission.
type Progress struct {
	WaypointIndex     int
	Progress          float64
	Battery           float64
	Position          geo.Coordinate
	DistanceRemaining float64
}

// Hooks connect a runner to the lifecycle owner of its mission. Each call
// is applied atomically with respect to other commands on the mission.
type Hooks interface {
	// Record applies p and returns the updated mission snapshot.
	Record(ctx context.Context, p Progress) (mission.Mission, error)
	Complete(ctx context.Context) error
	Fail(ctx context.Context, f *mission.SimulationFailure) error
}

// Persister is the part of the mission store a runner writes to.
type Persister interface {
	SaveMission(ctx context.Context, m mission.Mission) error
	AppendTelemetry(ctx context.Context, s telemetry.Sample) error
}

// Settings tune a runner. They come from config.Config.
type Settings struct {
	TickInterval time.Duration
	TimeScale    float64
	Battery      config.Battery
	Retries      int
	RetryBackoff time.Duration
}

// SettingsFrom extracts runner settings from the engine configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		TickInterval: cfg.TickInterval,
		TimeScale:    cfg.TimeScale,
		Battery:      cfg.Battery,
		Retries:      cfg.Persistence.Retries,
		RetryBackoff: cfg.Persistence.RetryBackoff,
	}
}

// Deps are the collaborators of a runner. Writer and Links may be nil.
type Deps struct {
	Hooks  Hooks
	Store  Persister
	Hub    *telemetry.Hub
	Writer TelemetryWriter
	Links  fleet.LinkMonitor
	Gen    *telemetry.Generator
}

// flight is the simulated kinematic state of the drone.
type flight struct {
	index       int     // last waypoint reached
	segTraveled float64 // meters flown past waypoints[index]
	dwellLeft   float64 // seconds still to hold at waypoints[index]
	traveled    float64 // meters flown since departure
	battery     float64
	progress    float64
	position    geo.Coordinate
}

// Runner simulates one mission's flight, one tick at a time.
type Runner struct {
	missionID string
	droneID   string
	path      *flightpath.FlightPath
	segments  []float64
	total     float64
	set       Settings
	deps      Deps

	state flight
	// finished is set once the last waypoint was reached but complete has
	// not been accepted yet.
	finished bool

	paused atomic.Bool
	done   chan struct{}
}

// NewRunner prepares a runner for m, which must carry a flight path and an
// assigned drone. The flight resumes at m.CurrentWaypointIndex with
// m.Battery left.
func NewRunner(m mission.Mission, set Settings, deps Deps) *Runner {
	if set.TimeScale <= 0 {
		set.TimeScale = 1
	}
	if set.TickInterval <= 0 {
		set.TickInterval = time.Second
	}
	if deps.Gen == nil {
		deps.Gen = telemetry.NewGenerator("")
	}
	r := &Runner{
		missionID: m.ID,
		droneID:   m.AssignedDroneID,
		path:      m.FlightPath,
		set:       set,
		deps:      deps,
		done:      make(chan struct{}),
	}
	wps := r.path.Waypoints
	r.segments = make([]float64, len(wps))
	for i := 0; i+1 < len(wps); i++ {
		r.segments[i] = r.path.Distance(wps[i].Position, wps[i+1].Position)
		r.total += r.segments[i]
	}

	idx := min(max(m.CurrentWaypointIndex, 0), r.path.LastIndex())
	r.state = flight{
		index:    idx,
		battery:  m.Battery,
		progress: m.Progress,
		position: wps[idx].Position,
	}
	for i := 0; i < idx; i++ {
		r.state.traveled += r.segments[i]
	}
	if idx > 0 && idx < r.path.LastIndex() && wps[idx].Action.Dwells() {
		r.state.dwellLeft = wps[idx].Duration
	}
	r.finished = idx == r.path.LastIndex()
	if m.Status == mission.StatusPaused {
		r.paused.Store(true)
	}
	return r
}

// MissionID returns the simulated mission.
func (r *Runner) MissionID() string { return r.missionID }

// Pause suspends advancement. State is kept.
func (r *Runner) Pause() { r.paused.Store(true) }

// Resume continues from the current waypoint.
func (r *Runner) Resume() { r.paused.Store(false) }

// Paused reports whether ticks are currently skipped.
func (r *Runner) Paused() bool { return r.paused.Load() }

// Done is closed when Run returns.
func (r *Runner) Done() <-chan struct{} { return r.done }
