package engine

import (
	"context"
	"errors"
	"sync"

	"droneops-survey/internal/fleet"
	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/logging"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/sim"
	"droneops-survey/internal/store"
)

// claimer is implemented by fleets that can re-reserve a known drone.
type claimer interface {
	Claim(ctx context.Context, droneID string) error
}

// entry is one mission and its simulator. cmd serializes external commands
// end to end; mu guards m and is held only to validate and apply.
type entry struct {
	e   *Engine
	cmd sync.Mutex

	mu     sync.Mutex
	m      mission.Mission
	runner *sim.Runner
	cancel func()
}

func (en *entry) snapshot() mission.Mission {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.m.Clone()
}

// apply runs cmd under mu. prepare, if set, runs after the transition was
// accepted and may amend the mission.
func (en *entry) apply(cmd mission.Command, prepare func(*mission.Mission)) (from mission.Status, m mission.Mission, err error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	from = en.m.Status
	if err := en.m.Apply(cmd, en.e.now().UTC()); err != nil {
		return from, en.m.Clone(), err
	}
	if prepare != nil {
		prepare(&en.m)
	}
	return from, en.m.Clone(), nil
}

// Record implements sim.Hooks.
func (en *entry) Record(ctx context.Context, p sim.Progress) (mission.Mission, error) {
	en.mu.Lock()
	defer en.mu.Unlock()
	switch {
	case en.m.Status.Terminal():
		return mission.Mission{}, sim.ErrMissionEnded
	case en.m.Status != mission.StatusInProgress:
		return mission.Mission{}, sim.ErrNotRunning
	}
	en.m.CurrentWaypointIndex = p.WaypointIndex
	en.m.Progress = p.Progress
	en.m.Battery = p.Battery
	en.m.Version++
	return en.m.Clone(), nil
}

// Complete implements sim.Hooks.
func (en *entry) Complete(ctx context.Context) error {
	return en.terminate(ctx, mission.CommandComplete, "")
}

// Fail implements sim.Hooks.
func (en *entry) Fail(ctx context.Context, f *mission.SimulationFailure) error {
	return en.terminate(ctx, mission.CommandFail, f.Reason)
}

// terminate applies a runner-initiated terminal transition.
func (en *entry) terminate(ctx context.Context, cmd mission.Command, reason string) error {
	en.mu.Lock()
	if en.m.Status.Terminal() {
		en.mu.Unlock()
		return sim.ErrMissionEnded
	}
	if cmd == mission.CommandComplete && en.m.Status != mission.StatusInProgress {
		en.mu.Unlock()
		return sim.ErrNotRunning
	}
	from := en.m.Status
	if err := en.m.Apply(cmd, en.e.now().UTC()); err != nil {
		en.mu.Unlock()
		return err
	}
	en.m.FailureReason = reason
	if en.cancel != nil {
		en.cancel()
	}
	en.runner, en.cancel = nil, nil
	m := en.m.Clone()
	en.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	en.e.finish(ctx, m)
	if err := en.e.store.SaveMission(ctx, m); err != nil {
		logging.FromContext(ctx).Error("saving terminal mission failed", "mission_id", m.ID, "status", m.Status, "err", err)
	}
	en.e.emit(ctx, cmd, from, m)
	return nil
}

// commit persists an applied command and records the event. A failed save
// leaves the transition applied; the caller gets a PersistenceError to retry
// on.
func (e *Engine) commit(ctx context.Context, cmd mission.Command, from mission.Status, m mission.Mission) (mission.Mission, error) {
	err := e.store.SaveMission(ctx, m)
	if err != nil {
		var pe *store.PersistenceError
		if !errors.As(err, &pe) {
			err = &store.PersistenceError{Op: "save mission", Err: err}
		}
		logging.FromContext(ctx).Error("saving mission failed", "mission_id", m.ID, "command", cmd, "err", err)
	}
	e.emit(ctx, cmd, from, m)
	return m, err
}

// begin looks up id and takes its command lock. The returned func releases it.
func (e *Engine) begin(id string) (*entry, func(), error) {
	if e.isClosed() {
		return nil, nil, ErrClosed
	}
	en, err := e.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	en.cmd.Lock()
	return en, en.cmd.Unlock, nil
}

// Schedule generates the flight path of a DRAFT mission with the mission's
// sensor. Start regenerates it when the reserved drone carries another one.
func (e *Engine) Schedule(ctx context.Context, id string) (mission.Mission, error) {
	en, unlock, err := e.begin(id)
	if err != nil {
		return mission.Mission{}, err
	}
	defer unlock()

	snap := en.snapshot()
	if _, err := mission.Transition(snap.Status, mission.CommandSchedule); err != nil {
		return snap, err
	}
	path, err := e.generate(snap)
	if err != nil {
		return snap, err
	}
	from, m, err := en.apply(mission.CommandSchedule, func(m *mission.Mission) {
		m.FlightPath = path
	})
	if err != nil {
		return m, err
	}
	return e.commit(ctx, mission.CommandSchedule, from, m)
}

// Start reserves a drone and launches the simulator. The flight path is
// generated for the sensor of the reserved drone unless the mission pins
// its own.
func (e *Engine) Start(ctx context.Context, id string) (mission.Mission, error) {
	en, unlock, err := e.begin(id)
	if err != nil {
		return mission.Mission{}, err
	}
	defer unlock()

	snap := en.snapshot()
	if _, err := mission.Transition(snap.Status, mission.CommandStart); err != nil {
		return snap, err
	}
	if e.fleet == nil {
		return snap, &fleet.NoDroneAvailableError{BaseID: snap.BaseID}
	}
	droneID, err := e.fleet.ReserveDrone(ctx, snap.BaseID, fleet.Criteria{MinBattery: e.cfg.Battery.MinStartPct})
	if err != nil {
		return snap, err
	}
	battery, err := e.fleet.Battery(ctx, droneID)
	if err != nil {
		e.release(ctx, id, droneID)
		return snap, err
	}
	sensor, err := e.droneSensor(ctx, snap, droneID)
	if err != nil {
		e.release(ctx, id, droneID)
		return snap, err
	}
	path := snap.FlightPath
	if path == nil || sensor != snap.Sensor {
		snap.Sensor = sensor
		if path, err = e.generate(snap); err != nil {
			e.release(ctx, id, droneID)
			return en.snapshot(), err
		}
	}

	var from mission.Status
	var m mission.Mission
	en.mu.Lock()
	from = en.m.Status
	err = en.m.Apply(mission.CommandStart, e.now().UTC())
	if err == nil {
		en.m.FlightPath = path
		en.m.Sensor = sensor
		en.m.AssignedDroneID = droneID
		en.m.Battery = battery
		en.m.CurrentWaypointIndex = 0
		en.m.Progress = 0
		e.launch(en)
	}
	m = en.m.Clone()
	en.mu.Unlock()
	if err != nil {
		e.release(ctx, id, droneID)
		return m, err
	}
	return e.commit(ctx, mission.CommandStart, from, m)
}

// droneSensor returns the sensor the mission flies with on droneID.
func (e *Engine) droneSensor(ctx context.Context, m mission.Mission, droneID string) (flightpath.Sensor, error) {
	sp, ok := e.fleet.(fleet.SensorProvider)
	if !ok || m.SensorPinned {
		return m.Sensor, nil
	}
	return sp.Sensor(ctx, droneID)
}

func (e *Engine) release(ctx context.Context, missionID, droneID string) {
	if err := e.fleet.ReleaseDrone(ctx, droneID); err != nil {
		logging.FromContext(ctx).Warn("release drone failed", "mission_id", missionID, "drone_id", droneID, "err", err)
	}
}

// Pause suspends an IN_PROGRESS mission. The drone stays reserved.
func (e *Engine) Pause(ctx context.Context, id string) (mission.Mission, error) {
	en, unlock, err := e.begin(id)
	if err != nil {
		return mission.Mission{}, err
	}
	defer unlock()

	from, m, err := en.apply(mission.CommandPause, func(*mission.Mission) {
		if en.runner != nil {
			en.runner.Pause()
		}
	})
	if err != nil {
		return m, err
	}
	return e.commit(ctx, mission.CommandPause, from, m)
}

// Resume continues a PAUSED mission from its current waypoint.
func (e *Engine) Resume(ctx context.Context, id string) (mission.Mission, error) {
	en, unlock, err := e.begin(id)
	if err != nil {
		return mission.Mission{}, err
	}
	defer unlock()

	from, m, err := en.apply(mission.CommandResume, func(*mission.Mission) {
		if en.runner == nil {
			e.launch(en)
			return
		}
		en.runner.Resume()
	})
	if err != nil {
		return m, err
	}
	return e.commit(ctx, mission.CommandResume, from, m)
}

// Abort stops a mission for good. The simulator has exited and the drone is
// released by the time Abort returns.
func (e *Engine) Abort(ctx context.Context, id string) (mission.Mission, error) {
	en, unlock, err := e.begin(id)
	if err != nil {
		return mission.Mission{}, err
	}
	defer unlock()

	var (
		runner *sim.Runner
		cancel func()
	)
	from, m, err := en.apply(mission.CommandAbort, func(*mission.Mission) {
		runner, cancel = en.runner, en.cancel
		en.runner, en.cancel = nil, nil
	})
	if err != nil {
		return m, err
	}
	if cancel != nil {
		cancel()
		select {
		case <-runner.Done():
		case <-ctx.Done():
			logging.FromContext(ctx).Warn("abort returned before simulator exit", "mission_id", id)
		}
	}
	e.finish(ctx, m)
	return e.commit(ctx, mission.CommandAbort, from, m)
}

// restoreRunner re-reserves the drone of an active mission loaded from the
// store and launches its simulator. A drone the fleet no longer knows fails
// the mission.
func (e *Engine) restoreRunner(ctx context.Context, en *entry) bool {
	m := en.snapshot()
	if c, ok := e.fleet.(claimer); ok && m.AssignedDroneID != "" {
		if err := c.Claim(ctx, m.AssignedDroneID); err != nil {
			logging.FromContext(ctx).Warn("restored drone unavailable", "mission_id", m.ID, "drone_id", m.AssignedDroneID, "err", err)
			_ = en.Fail(ctx, &mission.SimulationFailure{Reason: mission.ReasonDroneLost, Err: err})
			return false
		}
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	if !en.m.Status.Active() {
		return false
	}
	e.launch(en)
	return true
}

var _ sim.Hooks = (*entry)(nil)

// validPath reports whether m can be handed to a simulator.
func validPath(p *flightpath.FlightPath) bool {
	return p != nil && len(p.Waypoints) > 0
}
