package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droneops-survey/internal/config"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/telemetry"
)

// fakeHooks applies runner callbacks to an in-memory mission the way the
// engine does.
type fakeHooks struct {
	mu    sync.Mutex
	m     mission.Mission
	fails []*mission.SimulationFailure
}

func (h *fakeHooks) Record(ctx context.Context, p Progress) (mission.Mission, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.m.Status.Terminal() {
		return mission.Mission{}, ErrMissionEnded
	}
	if h.m.Status != mission.StatusInProgress {
		return mission.Mission{}, ErrNotRunning
	}
	h.m.CurrentWaypointIndex = p.WaypointIndex
	h.m.Progress = p.Progress
	h.m.Battery = p.Battery
	h.m.Version++
	return h.m.Clone(), nil
}

func (h *fakeHooks) Complete(ctx context.Context) error {
	return h.apply(mission.CommandComplete, "")
}

func (h *fakeHooks) Fail(ctx context.Context, f *mission.SimulationFailure) error {
	h.mu.Lock()
	h.fails = append(h.fails, f)
	h.mu.Unlock()
	return h.apply(mission.CommandFail, f.Reason)
}

func (h *fakeHooks) apply(cmd mission.Command, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.m.Status.Terminal() {
		return ErrMissionEnded
	}
	if err := h.m.Apply(cmd, time.Now()); err != nil {
		return ErrNotRunning
	}
	h.m.FailureReason = reason
	return nil
}

func (h *fakeHooks) command(t *testing.T, cmd mission.Command) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NoError(t, h.m.Apply(cmd, time.Now()))
}

func (h *fakeHooks) snapshot() mission.Mission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.m.Clone()
}

type fakePersister struct {
	mu       sync.Mutex
	samples  []telemetry.Sample
	saves    int
	failNext int // number of upcoming calls that fail
	attempts int
}

var errDiskFull = errors.New("disk full")

func (p *fakePersister) SaveMission(ctx context.Context, m mission.Mission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	return nil
}

func (p *fakePersister) AppendTelemetry(ctx context.Context, s telemetry.Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failNext != 0 {
		if p.failNext > 0 {
			p.failNext--
		}
		return errDiskFull
	}
	p.samples = append(p.samples, s)
	return nil
}

type fakeLinks struct{ up bool }

func (l *fakeLinks) Reachable(string) bool { return l.up }

type panicWriter struct{}

func (panicWriter) Write(telemetry.Sample) error { panic("sensor buffer overflow") }

// straightPath flies 100 m north from the origin in planar metres with a
// capture point halfway.
func straightPath(mid flightpath.Action, hold float64) *flightpath.FlightPath {
	return &flightpath.FlightPath{
		Waypoints: []flightpath.Waypoint{
			{Position: geo.Coordinate{Lat: 0, Lng: 0}, Altitude: 50, Action: flightpath.ActionFlyThrough},
			{Position: geo.Coordinate{Lat: 50, Lng: 0}, Altitude: 50, Action: mid, Order: 1, Duration: hold},
			{Position: geo.Coordinate{Lat: 100, Lng: 0}, Altitude: 50, Action: flightpath.ActionReturn, Order: 2},
		},
		Pattern:       flightpath.PatternWaypoint,
		TotalDistance: 100,
		Speed:         10,
		Projection:    geo.ProjectionPlanar,
	}
}

func settings(cruise float64) Settings {
	return Settings{
		TickInterval: time.Second,
		TimeScale:    1,
		Battery:      config.Battery{CruiseDrainPctPerS: cruise, HoverDrainMultiplier: 2},
		Retries:      2,
	}
}

func newTestRunner(path *flightpath.FlightPath, set Settings) (*Runner, *fakeHooks, *fakePersister) {
	m := mission.Mission{
		ID:              "m-1",
		Status:          mission.StatusInProgress,
		FlightPath:      path,
		Battery:         100,
		AssignedDroneID: "quad-0",
	}
	hooks := &fakeHooks{m: m.Clone()}
	store := &fakePersister{}
	gen := telemetry.NewGenerator("test").WithClock(func() time.Time { return time.Unix(0, 0) })
	r := NewRunner(m, set, Deps{Hooks: hooks, Store: store, Gen: gen})
	return r, hooks, store
}

func runTicks(t *testing.T, r *Runner, n int) int {
	t.Helper()
	for i := 1; i <= n; i++ {
		if r.tick(context.Background()) {
			return i
		}
	}
	return -1
}

func TestRunnerCompletesPath(t *testing.T) {
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(0.1))
	hub := telemetry.NewHub(32)
	sub := hub.Subscribe("m-1")
	r.deps.Hub = hub

	require.Equal(t, 10, runTicks(t, r, 20), "100 m at 10 m/s is ten one-second ticks")

	m := hooks.snapshot()
	assert.Equal(t, mission.StatusCompleted, m.Status)
	assert.Equal(t, 100.0, m.Progress)
	assert.Equal(t, 2, m.CurrentWaypointIndex)
	assert.InDelta(t, 99, m.Battery, 1e-9)

	require.Len(t, store.samples, 10)
	var prev float64
	for i, s := range store.samples {
		assert.GreaterOrEqual(t, s.Progress, prev, "progress never decreases")
		if i < len(store.samples)-1 {
			assert.Less(t, s.Progress, 100.0, "only the final sample reaches 100")
		}
		if i > 0 {
			assert.Greater(t, s.Seq, store.samples[i-1].Seq)
		}
		prev = s.Progress
	}
	assert.Equal(t, 100.0, store.samples[9].Progress)
	assert.InDelta(t, 30, store.samples[2].Position.Lat, 1e-9)
	assert.InDelta(t, 70, store.samples[2].DistanceRemaining, 1e-9)
	assert.Len(t, drainSubscription(sub), 10, "every committed sample is published")
}

func drainSubscription(s *telemetry.Subscription) []telemetry.Sample {
	var out []telemetry.Sample
	for {
		select {
		case smp := <-s.C:
			out = append(out, smp)
		default:
			return out
		}
	}
}

func TestRunnerBatteryExhaustion(t *testing.T) {
	// 12.5 %/s empties a full battery after 8 s, i.e. 80 m into a 100 m path.
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(12.5))

	require.Equal(t, 8, runTicks(t, r, 20))

	m := hooks.snapshot()
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, mission.ReasonBatteryExhausted, m.FailureReason)
	assert.InDelta(t, 80, m.Progress, 1e-9, "progress frozen at the exhaustion point")
	assert.Zero(t, m.Battery)
	require.Len(t, store.samples, 8)
	assert.Equal(t, telemetry.StatusDepleted, store.samples[7].Status)
}

func TestRunnerExhaustionMidTick(t *testing.T) {
	// 30 %/s runs dry after 3⅓ s: the drone stops at 33⅓ m.
	r, hooks, _ := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(30))
	require.Equal(t, 4, runTicks(t, r, 20))
	m := hooks.snapshot()
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.InDelta(t, 100.0/3, m.Progress, 1e-6)
}

func TestRunnerPauseFreezesState(t *testing.T) {
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(1))
	runTicks(t, r, 3)
	before := hooks.snapshot()

	hooks.command(t, mission.CommandPause)
	r.Pause()
	for i := 0; i < 5; i++ {
		assert.False(t, r.tick(context.Background()))
	}
	frozen := hooks.snapshot()
	assert.Equal(t, before.Progress, frozen.Progress)
	assert.Equal(t, before.Battery, frozen.Battery)
	assert.Len(t, store.samples, 3, "no samples while paused")

	hooks.command(t, mission.CommandResume)
	r.Resume()
	assert.False(t, r.tick(context.Background()))
	assert.InDelta(t, 40, hooks.snapshot().Progress, 1e-9, "resumes where it stopped")
}

func TestRunnerDiscardsTickWhenPauseWinsRace(t *testing.T) {
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(1))
	runTicks(t, r, 2)
	// The mission is paused but the runner has not been told yet.
	hooks.command(t, mission.CommandPause)
	state := r.state
	assert.False(t, r.tick(context.Background()))
	assert.Equal(t, state, r.state)
	assert.Len(t, store.samples, 2)
}

func TestRunnerDwellsAtHover(t *testing.T) {
	set := settings(1)
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionHover, 3), set)

	runTicks(t, r, 5)
	assert.Equal(t, 1, hooks.snapshot().CurrentWaypointIndex)
	assert.InDelta(t, 95, hooks.snapshot().Battery, 1e-9)

	runTicks(t, r, 3)
	require.Len(t, store.samples, 8)
	for _, s := range store.samples[4:8] {
		assert.Equal(t, geo.Coordinate{Lat: 50, Lng: 0}, s.Position, "holds position while hovering")
	}
	assert.InDelta(t, 89, hooks.snapshot().Battery, 1e-9, "hover drains at twice the cruise rate")

	r.tick(context.Background())
	assert.InDelta(t, 60, store.samples[8].Position.Lat, 1e-9)
}

func TestRunnerTimeScale(t *testing.T) {
	set := settings(0)
	set.TimeScale = 2.5
	r, hooks, _ := newTestRunner(straightPath(flightpath.ActionCapture, 0), set)
	require.Equal(t, 4, runTicks(t, r, 10))
	assert.Equal(t, mission.StatusCompleted, hooks.snapshot().Status)
}

func TestRunnerDroneLost(t *testing.T) {
	r, hooks, _ := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(1))
	links := &fakeLinks{up: true}
	r.deps.Links = links
	runTicks(t, r, 2)

	hooks.command(t, mission.CommandPause)
	r.Pause()
	links.up = false
	assert.True(t, r.tick(context.Background()), "link loss is detected while paused")

	m := hooks.snapshot()
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, mission.ReasonDroneLost, m.FailureReason)
}

func TestRunnerRecoversPanics(t *testing.T) {
	r, hooks, _ := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(1))
	r.deps.Writer = panicWriter{}

	assert.NotPanics(t, func() {
		assert.True(t, r.tick(context.Background()))
	})
	m := hooks.snapshot()
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, mission.ReasonPanic, m.FailureReason)
	require.Len(t, hooks.fails, 1)
	assert.Contains(t, hooks.fails[0].Error(), "sensor buffer overflow")
}

func TestRunnerRetriesPersistence(t *testing.T) {
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(1))
	store.failNext = 2
	assert.False(t, r.tick(context.Background()))
	assert.Equal(t, 3, store.attempts, "two failures then success")
	assert.Len(t, store.samples, 1)
	assert.Equal(t, mission.StatusInProgress, hooks.snapshot().Status)
}

func TestRunnerFailsWhenPersistenceKeepsFailing(t *testing.T) {
	r, hooks, store := newTestRunner(straightPath(flightpath.ActionCapture, 0), settings(1))
	store.failNext = -1
	assert.True(t, r.tick(context.Background()))
	assert.Equal(t, 3, store.attempts, "one attempt plus two retries")

	m := hooks.snapshot()
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, mission.ReasonPersistence, m.FailureReason)
	require.Len(t, hooks.fails, 1)
	assert.ErrorIs(t, hooks.fails[0], errDiskFull)
}

func TestRunnerRetriesCompleteAfterPause(t *testing.T) {
	path := straightPath(flightpath.ActionCapture, 0)
	m := mission.Mission{ID: "m-1", Status: mission.StatusInProgress, FlightPath: path, Battery: 40, CurrentWaypointIndex: 2}
	hooks := &fakeHooks{m: m.Clone()}
	hooks.m.Status = mission.StatusPaused
	r := NewRunner(m, settings(1), Deps{Hooks: hooks, Store: &fakePersister{}})

	assert.False(t, r.tick(context.Background()), "complete is refused while paused")
	hooks.command(t, mission.CommandResume)
	assert.True(t, r.tick(context.Background()))
	assert.Equal(t, mission.StatusCompleted, hooks.snapshot().Status)
}

func TestRunnerResumesFromStoredIndex(t *testing.T) {
	path := straightPath(flightpath.ActionCapture, 0)
	m := mission.Mission{ID: "m-1", Status: mission.StatusInProgress, FlightPath: path, Battery: 50, CurrentWaypointIndex: 1, Progress: 50}
	hooks := &fakeHooks{m: m.Clone()}
	store := &fakePersister{}
	r := NewRunner(m, settings(1), Deps{Hooks: hooks, Store: store})

	r.tick(context.Background())
	require.Len(t, store.samples, 1)
	assert.InDelta(t, 60, store.samples[0].Progress, 1e-9)
	assert.InDelta(t, 49, store.samples[0].BatteryPercent, 1e-9)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	set := settings(0)
	set.TickInterval = 10 * time.Millisecond
	r, _, _ := newTestRunner(straightPath(flightpath.ActionCapture, 0), set)
	r.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	cancel()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("runner did not observe cancellation")
	}
}
