package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droneops-survey/internal/config"
	"droneops-survey/internal/fleet"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/store"
	"droneops-survey/internal/telemetry"
)

type countingFleet struct {
	*fleet.Registry
	releases atomic.Int32
}

func (f *countingFleet) ReleaseDrone(ctx context.Context, droneID string) error {
	f.releases.Add(1)
	return f.Registry.ReleaseDrone(ctx, droneID)
}

type flakyStore struct {
	*store.MemoryStore
	failSaves    atomic.Bool
	blockAppends atomic.Bool
	blocked      chan struct{}
}

// AppendTelemetry blocks while blockAppends is set until ctx is done, the way
// a database/sql driver gives up on a cancelled query.
func (s *flakyStore) AppendTelemetry(ctx context.Context, smp telemetry.Sample) error {
	if s.blockAppends.Load() {
		select {
		case s.blocked <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return s.MemoryStore.AppendTelemetry(ctx, smp)
}

func (s *flakyStore) SaveMission(ctx context.Context, m mission.Mission) error {
	if s.failSaves.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.SaveMission(ctx, m)
}

type eventLog struct {
	mu     sync.Mutex
	events []telemetry.MissionEvent
}

func (l *eventLog) WriteEvent(e telemetry.MissionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.Command)
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Projection = geo.ProjectionPlanar
	cfg.TickInterval = time.Hour
	cfg.Sensor = flightpath.Sensor{FootprintWidthM: 20}
	cfg.Battery.CruiseDrainPctPerS = 0.01
	cfg.Bases = []config.Base{{ID: "base", Name: "Base"}}
	cfg.Fleets = []config.Fleet{{Name: "quad", Model: "quad", Count: 1, Base: "base", BatteryPct: 100}}
	return cfg
}

func squareSpec() MissionSpec {
	return MissionSpec{
		Name: "square",
		CoverageArea: []geo.Coordinate{
			{Lat: 10, Lng: 10}, {Lat: 10, Lng: 110}, {Lat: 110, Lng: 110}, {Lat: 110, Lng: 10},
		},
		Pattern:        flightpath.PatternWaypoint,
		Altitude:       50,
		Speed:          10,
		OverlapPercent: 50,
		BaseID:         "base",
	}
}

type harness struct {
	e      *Engine
	fleet  *countingFleet
	store  *flakyStore
	events *eventLog
}

func newHarness(t *testing.T, cfg *config.Config, st *flakyStore) *harness {
	t.Helper()
	reg, err := fleet.NewRegistry(cfg)
	require.NoError(t, err)
	if st == nil {
		st = &flakyStore{MemoryStore: store.NewMemoryStore()}
	}
	h := &harness{fleet: &countingFleet{Registry: reg}, store: st, events: &eventLog{}}
	h.e = New(context.Background(), cfg, Deps{Store: st, Fleet: h.fleet, Events: h.events})
	t.Cleanup(func() { _ = h.e.Shutdown(context.Background()) })
	return h
}

func (h *harness) create(t *testing.T) mission.Mission {
	t.Helper()
	m, err := h.e.CreateMission(context.Background(), squareSpec())
	require.NoError(t, err)
	return m
}

func (h *harness) waitStatus(t *testing.T, id string, want mission.Status) mission.Mission {
	t.Helper()
	var m mission.Mission
	require.Eventually(t, func() bool {
		var err error
		m, err = h.e.Get(context.Background(), id)
		return err == nil && m.Status == want
	}, 3*time.Second, 5*time.Millisecond)
	return m
}

func TestCreateMissionStoresDraft(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	m := h.create(t)

	assert.Equal(t, mission.StatusDraft, m.Status)
	assert.Equal(t, int64(1), m.Version)
	assert.Nil(t, m.FlightPath)
	assert.NotEmpty(t, m.ID)

	stored, err := h.store.LoadMission(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, stored.ID)
}

func TestCreateMissionRejectsBadInput(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()

	spec := squareSpec()
	spec.BaseID = "nowhere"
	_, err := h.e.CreateMission(ctx, spec)
	var pe *flightpath.InvalidParameterError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "base_id", pe.Param)

	spec = squareSpec()
	spec.CoverageArea = spec.CoverageArea[:2]
	_, err = h.e.CreateMission(ctx, spec)
	var ge *flightpath.InvalidGeometryError
	require.ErrorAs(t, err, &ge)

	spec = squareSpec()
	spec.Speed = 0
	_, err = h.e.CreateMission(ctx, spec)
	require.ErrorAs(t, err, &pe)

	assert.Empty(t, h.e.List(ctx))
}

func TestPauseFromDraftIsRejected(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	m := h.create(t)

	got, err := h.e.Pause(context.Background(), m.ID)
	var te *mission.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, mission.StatusDraft, te.From)
	assert.Equal(t, mission.CommandPause, te.Attempted)
	assert.Equal(t, mission.StatusDraft, got.Status)

	cur, err := h.e.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusDraft, cur.Status)
	assert.Equal(t, int64(1), cur.Version)
	assert.Empty(t, h.events.commands())
}

func TestScheduleAttachesFlightPath(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	m := h.create(t)

	got, err := h.e.Schedule(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusScheduled, got.Status)
	require.NotNil(t, got.FlightPath)
	assert.Equal(t, flightpath.ActionFlyThrough, got.FlightPath.Waypoints[0].Action)
	assert.Equal(t, []string{"schedule"}, h.events.commands())
}

func TestStartFliesReservedDroneSensor(t *testing.T) {
	cfg := testConfig()
	cfg.Fleets[0].Sensor = &flightpath.Sensor{FootprintWidthM: 40}
	cfg.Fleets[0].Count = 2
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	spec := squareSpec()
	spec.Pattern = flightpath.PatternCrosshatch
	wide := spec
	wide.Sensor = &flightpath.Sensor{FootprintWidthM: 40}
	want, err := h.e.Preview(wide)
	require.NoError(t, err)

	m, err := h.e.CreateMission(ctx, spec)
	require.NoError(t, err)
	scheduled, err := h.e.Schedule(ctx, m.ID)
	require.NoError(t, err)
	started, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 40.0, started.Sensor.FootprintWidthM)
	require.NotNil(t, started.FlightPath)
	assert.Len(t, started.FlightPath.Waypoints, len(want.Waypoints))
	assert.InDelta(t, want.TotalDistance, started.FlightPath.TotalDistance, 1e-6)
	assert.Greater(t, len(scheduled.FlightPath.Waypoints), len(started.FlightPath.Waypoints))

	pinned := spec
	pinned.Sensor = &flightpath.Sensor{FootprintWidthM: 20}
	narrow, err := h.e.Preview(pinned)
	require.NoError(t, err)
	p, err := h.e.CreateMission(ctx, pinned)
	require.NoError(t, err)
	got, err := h.e.Start(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got.Sensor.FootprintWidthM)
	assert.Len(t, got.FlightPath.Waypoints, len(narrow.Waypoints))
}

func TestBatteryExhaustionFailsMissionAndReleasesDrone(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.TimeScale = 500
	h := newHarness(t, cfg, nil)
	ctx := context.Background()

	path, err := h.e.Preview(squareSpec())
	require.NoError(t, err)
	// Drain a full battery over 80% of the flight time.
	cfg.Battery.CruiseDrainPctPerS = 100 / (0.8 * path.TotalDistance / path.Speed)
	cfg.Battery.SpeedDrainPctPerMpsS = 0

	m := h.create(t)
	sub, err := h.e.Subscribe(m.ID)
	require.NoError(t, err)
	started, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, started.AssignedDroneID)

	failed := h.waitStatus(t, m.ID, mission.StatusFailed)
	assert.Equal(t, mission.ReasonBatteryExhausted, failed.FailureReason)
	assert.InDelta(t, 80, failed.Progress, 0.5)
	assert.Zero(t, failed.Battery)
	assert.NotNil(t, failed.CompletedAt)

	// The stream ends once the drone is back.
	var last telemetry.Sample
	for s := range sub.C {
		last = s
	}
	assert.Equal(t, telemetry.StatusDepleted, last.Status)
	assert.Equal(t, int32(1), h.fleet.releases.Load())
	for _, d := range h.fleet.Drones() {
		assert.Equal(t, fleet.StateAvailable, d.State)
		assert.Zero(t, d.Battery)
	}

	require.Eventually(t, func() bool {
		stored, err := h.store.LoadMission(ctx, m.ID)
		return err == nil && stored.Status == mission.StatusFailed
	}, time.Second, 5*time.Millisecond)

	samples, err := h.store.Telemetry(ctx, m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, samples)
	for i := 1; i < len(samples); i++ {
		assert.Less(t, samples[i-1].Seq, samples[i].Seq)
		assert.LessOrEqual(t, samples[i-1].Progress, samples[i].Progress)
	}
	require.Eventually(t, func() bool { return len(h.events.commands()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"start", "fail"}, h.events.commands())
}

func TestMissionCompletes(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.TimeScale = 500
	h := newHarness(t, cfg, nil)

	m := h.create(t)
	_, err := h.e.Start(context.Background(), m.ID)
	require.NoError(t, err)

	done := h.waitStatus(t, m.ID, mission.StatusCompleted)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, done.FlightPath.LastIndex(), done.CurrentWaypointIndex)
	assert.Greater(t, done.Battery, 0.0)
	require.Eventually(t, func() bool { return h.fleet.releases.Load() == 1 }, time.Second, 5*time.Millisecond)

	sub, err := h.e.Subscribe(m.ID)
	require.NoError(t, err)
	_, open := <-sub.C
	assert.False(t, open)
}

func TestAbortIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	m := h.create(t)
	_, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)

	aborted, err := h.e.Abort(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusAborted, aborted.Status)
	assert.Equal(t, int32(1), h.fleet.releases.Load())

	again, err := h.e.Abort(ctx, m.ID)
	var te *mission.InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, mission.StatusAborted, te.From)
	assert.Equal(t, mission.StatusAborted, again.Status)
	assert.Equal(t, int32(1), h.fleet.releases.Load())
	assert.Equal(t, []string{"start", "abort"}, h.events.commands())
}

func TestPauseKeepsDroneAndResumeContinues(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	m := h.create(t)
	started, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)

	paused, err := h.e.Pause(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusPaused, paused.Status)
	assert.Equal(t, started.AssignedDroneID, paused.AssignedDroneID)
	assert.Zero(t, h.fleet.releases.Load())

	resumed, err := h.e.Resume(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusInProgress, resumed.Status)
	assert.Equal(t, paused.CurrentWaypointIndex, resumed.CurrentWaypointIndex)
	assert.Greater(t, resumed.Version, paused.Version)
}

func TestConcurrentCommandsStayConsistent(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	m := h.create(t)
	_, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var aborts atomic.Int32
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_, _ = h.e.Pause(ctx, m.ID)
			case 1:
				_, _ = h.e.Resume(ctx, m.ID)
			case 2:
				if _, err := h.e.Abort(ctx, m.ID); err == nil {
					aborts.Add(1)
				}
			default:
				_, _ = h.e.Get(ctx, m.ID)
			}
		}(i)
	}
	wg.Wait()

	cur, err := h.e.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusAborted, cur.Status)
	assert.Equal(t, int32(1), aborts.Load())
	assert.Equal(t, int32(1), h.fleet.releases.Load())
}

func TestNoDroneAvailable(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	first := h.create(t)
	second := h.create(t)

	_, err := h.e.Start(ctx, first.ID)
	require.NoError(t, err)
	got, err := h.e.Start(ctx, second.ID)
	require.ErrorIs(t, err, fleet.ErrNoDroneAvailable)
	assert.Equal(t, mission.StatusDraft, got.Status)
	assert.Empty(t, got.AssignedDroneID)
}

func TestSaveFailureSurfacesAfterTransition(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	m := h.create(t)
	_, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)

	h.store.failSaves.Store(true)
	got, err := h.e.Pause(ctx, m.ID)
	var pe *store.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Temporary())
	assert.Equal(t, mission.StatusPaused, got.Status)

	cur, err := h.e.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusPaused, cur.Status)
}

func TestUnknownMission(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, err := h.e.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownMission)
	_, err = h.e.Subscribe("ghost")
	assert.ErrorIs(t, err, ErrUnknownMission)
}

func TestShutdownKeepsStatus(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	m := h.create(t)
	_, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)
	sub, err := h.e.Subscribe(m.ID)
	require.NoError(t, err)

	require.NoError(t, h.e.Shutdown(ctx))
	_, open := <-sub.C
	assert.False(t, open)

	cur, err := h.e.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusInProgress, cur.Status)
	assert.Zero(t, h.fleet.releases.Load())

	_, err = h.e.Pause(ctx, m.ID)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShutdownDuringStoreWriteKeepsStatus(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 2 * time.Millisecond
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), blocked: make(chan struct{}, 1)}
	h := newHarness(t, cfg, st)
	ctx := context.Background()
	m := h.create(t)

	st.blockAppends.Store(true)
	started, err := h.e.Start(ctx, m.ID)
	require.NoError(t, err)
	select {
	case <-st.blocked:
	case <-time.After(3 * time.Second):
		t.Fatal("runner never wrote telemetry")
	}

	require.NoError(t, h.e.Shutdown(ctx))

	cur, err := h.e.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusInProgress, cur.Status)
	assert.Empty(t, cur.FailureReason)
	stored, err := st.LoadMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusInProgress, stored.Status)
	assert.Zero(t, h.fleet.releases.Load())
	for _, d := range h.fleet.Drones() {
		if d.ID == started.AssignedDroneID {
			assert.Equal(t, fleet.StateReserved, d.State)
		}
	}
	assert.Equal(t, []string{"start"}, h.events.commands())
}

func TestRestoreResumesActiveMissions(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	ctx := context.Background()

	first := newHarness(t, testConfig(), st)
	running := first.create(t)
	_, err := first.e.Start(ctx, running.ID)
	require.NoError(t, err)
	draft := first.create(t)
	require.NoError(t, first.e.Shutdown(ctx))

	cfg := testConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.TimeScale = 500
	second := newHarness(t, cfg, st)
	n, err := second.e.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, second.e.List(ctx), 2)

	second.waitStatus(t, running.ID, mission.StatusCompleted)
	cur, err := second.e.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusDraft, cur.Status)
}

func TestRestoreSkipsStoredTelemetrySeqs(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	ctx := context.Background()

	first := newHarness(t, testConfig(), st)
	m := first.create(t)
	started, err := first.e.Start(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, first.e.Shutdown(ctx))

	// A sample whose mission save never landed.
	orphan := uint64(started.Version + 3)
	require.NoError(t, st.AppendTelemetry(ctx, telemetry.Sample{MissionID: m.ID, Seq: orphan, Timestamp: time.Now()}))

	second := newHarness(t, testConfig(), st)
	n, err := second.e.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err := second.e.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(orphan), cur.Version)

	paused, err := second.e.Pause(ctx, m.ID)
	require.NoError(t, err)
	assert.Greater(t, paused.Version, int64(orphan))
	stored, err := st.LoadMission(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusPaused, stored.Status)
}

func TestRestoreFailsMissionsWithUnknownDrone(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	ctx := context.Background()

	first := newHarness(t, testConfig(), st)
	m := first.create(t)
	_, err := first.e.Start(ctx, m.ID)
	require.NoError(t, err)
	require.NoError(t, first.e.Shutdown(ctx))

	cfg := testConfig()
	cfg.Fleets[0].Name = "wing"
	second := newHarness(t, cfg, st)
	n, err := second.e.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cur, err := second.e.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFailed, cur.Status)
	assert.Equal(t, mission.ReasonDroneLost, cur.FailureReason)
}

func TestListOrdersByCreation(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg, err := fleet.NewRegistry(cfg)
	require.NoError(t, err)
	e := New(context.Background(), cfg, Deps{Fleet: reg, Now: func() time.Time {
		now = now.Add(time.Second)
		return now
	}})
	defer e.Shutdown(context.Background())

	var ids []string
	for i := 0; i < 3; i++ {
		m, err := e.CreateMission(context.Background(), squareSpec())
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	var got []string
	for _, m := range e.List(context.Background()) {
		got = append(got, m.ID)
	}
	assert.Equal(t, ids, got)
}
