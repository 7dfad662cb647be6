package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"droneops-survey/internal/geo"
	"droneops-survey/internal/logging"
	"droneops-survey/internal/mission"
	"droneops-survey/internal/telemetry"
)

// maxProgressBeforeLast keeps progress strictly below 100 until the final
// waypoint is reached.
var maxProgressBeforeLast = math.Nextafter(100, 0)

// Run drives the mission until it completes, fails or ctx is done.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	log := logging.FromContext(ctx).With("mission_id", r.missionID, "drone_id", r.droneID)
	ctx = logging.NewContext(ctx, log)
	log.Info("starting simulator", "tick_interval", r.set.TickInterval, "waypoint_index", r.state.index)
	ticker := time.NewTicker(r.set.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.tick(ctx) {
				log.Info("simulator finished", "waypoint_index", r.state.index, "progress", r.state.progress)
				return
			}
		case <-ctx.Done():
			log.Info("stopping simulator")
			return
		}
	}
}

// tick advances the flight by one interval and reports whether the runner
// should stop.
func (r *Runner) tick(ctx context.Context) (stop bool) {
	log := logging.FromContext(ctx)
	defer func() {
		if v := recover(); v != nil {
			log.Error("simulator panic", "mission_id", r.missionID, "waypoint_index", r.state.index,
				"progress", r.state.progress, "battery", r.state.battery, "position", r.state.position.String(), "panic", v)
			r.fail(ctx, mission.ReasonPanic, fmt.Errorf("panic: %v", v))
			stop = true
		}
	}()

	if r.deps.Links != nil && !r.deps.Links.Reachable(r.droneID) {
		log.Warn("drone unreachable", "waypoint_index", r.state.index)
		r.fail(ctx, mission.ReasonDroneLost, nil)
		return true
	}
	if r.paused.Load() {
		return false
	}
	if r.finished {
		return r.complete(ctx)
	}

	next, exhausted := r.advance(r.state, r.set.TickInterval.Seconds()*r.set.TimeScale)
	snap, err := r.deps.Hooks.Record(ctx, r.progressOf(next))
	switch {
	case errors.Is(err, ErrNotRunning):
		return false
	case errors.Is(err, ErrMissionEnded):
		return true
	case err != nil:
		log.Error("record progress failed", "err", err)
		return false
	}

	smp := r.deps.Gen.GenerateSample(r.missionID, r.droneID, uint64(snap.Version), r.sampleState(next))
	if err := r.persist(ctx, func(ctx context.Context) error {
		if err := r.deps.Store.AppendTelemetry(ctx, smp); err != nil {
			return err
		}
		return r.deps.Store.SaveMission(ctx, snap)
	}); err != nil {
		if ctx.Err() != nil {
			// Stopped mid-write: the mission keeps its stored status.
			log.Info("store write interrupted by shutdown", "waypoint_index", r.state.index, "err", err)
			return true
		}
		log.Error("persisting tick failed", "attempts", r.set.Retries+1, "err", err)
		r.fail(ctx, mission.ReasonPersistence, err)
		return true
	}

	r.state = next
	if r.deps.Hub != nil {
		r.deps.Hub.Publish(smp)
	}
	if r.deps.Writer != nil {
		if err := r.deps.Writer.Write(smp); err != nil {
			log.Error("write failed", "err", err)
		}
	}

	switch {
	case next.index == r.path.LastIndex():
		r.finished = true
		return r.complete(ctx)
	case exhausted:
		log.Warn("battery exhausted", "waypoint_index", next.index, "progress", next.progress)
		r.fail(ctx, mission.ReasonBatteryExhausted, nil)
		return true
	}
	return false
}

// advance walks dt simulated seconds along the path from st. It stops early
// at the final waypoint or when the battery runs out.
func (r *Runner) advance(st flight, dt float64) (flight, bool) {
	wps := r.path.Waypoints
	last := r.path.LastIndex()
	speed := r.path.Speed
	cruise := r.set.Battery.CruiseDrainPctPerS + r.set.Battery.SpeedDrainPctPerMpsS*speed
	hover := cruise * r.set.Battery.HoverDrainMultiplier

	exhausted := false
	for st.index < last && dt > 0 {
		if st.battery <= 0 {
			exhausted = true
			break
		}
		if st.dwellLeft > 0 {
			step := math.Min(dt, st.dwellLeft)
			if cost := hover * step; cost > st.battery {
				step = st.battery / hover
				st.battery = 0
			} else {
				st.battery -= cost
			}
			st.dwellLeft -= step
			dt -= step
			continue
		}

		seg := r.segments[st.index]
		need := (seg - st.segTraveled) / speed
		step := math.Min(dt, need)
		arrived := step >= need
		if cost := cruise * step; cost > st.battery {
			step = st.battery / cruise
			arrived = false
			st.battery = 0
		} else {
			st.battery -= cost
		}
		dt -= step
		if arrived {
			st.traveled += seg - st.segTraveled
			st.index++
			st.segTraveled = 0
			st.position = wps[st.index].Position
			if st.index < last && wps[st.index].Action.Dwells() {
				st.dwellLeft = wps[st.index].Duration
			}
			continue
		}
		st.segTraveled += step * speed
		st.traveled += step * speed
		st.position = geo.Interpolate(wps[st.index].Position, wps[st.index+1].Position, st.segTraveled/seg)
	}
	if st.index < last && st.battery <= 0 {
		exhausted = true
	}
	st.battery = math.Max(st.battery, 0)
	st.progress = math.Max(st.progress, r.progressAt(st))
	return st, exhausted
}

func (r *Runner) progressAt(st flight) float64 {
	last := r.path.LastIndex()
	if st.index >= last {
		return 100
	}
	var p float64
	if r.total > 0 {
		p = st.traveled / r.total * 100
	} else if last > 0 {
		p = float64(st.index) / float64(last) * 100
	}
	return math.Min(p, maxProgressBeforeLast)
}

func (r *Runner) distanceRemaining(st flight) float64 {
	return math.Max(r.total-st.traveled, 0)
}

func (r *Runner) progressOf(st flight) Progress {
	return Progress{
		WaypointIndex:     st.index,
		Progress:          st.progress,
		Battery:           st.battery,
		Position:          st.position,
		DistanceRemaining: r.distanceRemaining(st),
	}
}

// persist runs op with the configured retries and linear backoff.
func (r *Runner) persist(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.set.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.set.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
			logging.FromContext(ctx).Warn("retrying store write", "attempt", attempt, "err", err)
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return err
}

// complete asks for the complete transition. A pause that raced the final
// tick leaves the runner finished; it retries once resumed.
func (r *Runner) complete(ctx context.Context) bool {
	err := r.deps.Hooks.Complete(context.WithoutCancel(ctx))
	switch {
	case err == nil, errors.Is(err, ErrMissionEnded):
		return true
	case errors.Is(err, ErrNotRunning):
		return false
	}
	logging.FromContext(ctx).Error("complete failed", "err", err)
	return false
}

func (r *Runner) fail(ctx context.Context, reason string, cause error) {
	f := &mission.SimulationFailure{Reason: reason, Err: cause}
	if err := r.deps.Hooks.Fail(context.WithoutCancel(ctx), f); err != nil && !errors.Is(err, ErrMissionEnded) {
		logging.FromContext(ctx).Error("fail transition failed", "reason", reason, "err", err)
	}
}

func (r *Runner) sampleState(st flight) telemetry.State {
	alt := r.path.Waypoints[st.index].Altitude
	if st.index+1 < len(r.path.Waypoints) && st.segTraveled > 0 {
		next := r.path.Waypoints[st.index+1].Altitude
		alt += (next - alt) * st.segTraveled / r.segments[st.index]
	}
	return telemetry.State{
		Position:          st.position,
		Altitude:          alt,
		Battery:           st.battery,
		WaypointIndex:     st.index,
		DistanceRemaining: r.distanceRemaining(st),
		Progress:          st.progress,
	}
}
