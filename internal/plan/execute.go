package plan

import (
	"context"
	"fmt"
	"time"

	"droneops-survey/internal/engine"
	"droneops-survey/internal/logging"
	"droneops-survey/internal/mission"
)

type tracked struct {
	entry Entry
	id    string
	fired int
	done  bool
}

// Execute creates and starts every mission of p, then polls them and fires
// their triggers until all missions are terminal or ctx is done. It returns
// the last known state of each created mission in plan order.
func Execute(ctx context.Context, e *engine.Engine, p *Plan, poll time.Duration) ([]mission.Mission, error) {
	if poll <= 0 {
		poll = time.Second
	}
	log := logging.FromContext(ctx).With("plan", p.Name)
	began := time.Now()

	runs := make([]*tracked, 0, len(p.Missions))
	for i, ent := range p.Missions {
		m, err := e.CreateMission(ctx, ent.Mission)
		if err != nil {
			return nil, fmt.Errorf("plan %q mission %d: %w", p.Name, i, err)
		}
		run := &tracked{entry: ent, id: m.ID}
		runs = append(runs, run)
		if ent.Schedule {
			if _, err := e.Schedule(ctx, m.ID); err != nil {
				log.Warn("schedule failed", "mission_id", m.ID, "err", err)
			}
		}
		if _, err := e.Start(ctx, m.ID); err != nil {
			log.Warn("start failed", "mission_id", m.ID, "name", ent.Mission.Name, "err", err)
			run.done = true
		}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		pending := 0
		for _, run := range runs {
			if run.done {
				continue
			}
			m, err := e.Get(ctx, run.id)
			if err != nil {
				return collect(ctx, e, runs), err
			}
			if m.Status.Terminal() {
				run.done = true
				log.Info("mission finished", "mission_id", m.ID, "status", m.Status, "progress", m.Progress, "reason", m.FailureReason)
				continue
			}
			pending++
			obs := Observation{Progress: m.Progress, Elapsed: time.Since(began).Seconds()}
			if tr, ok := run.entry.NextTrigger(run.fired, obs); ok {
				run.fired++
				if _, err := fire(ctx, e, run.id, tr.Command); err != nil {
					log.Warn("scripted command rejected", "mission_id", run.id, "command", tr.Command, "err", err)
				} else {
					log.Info("scripted command", "mission_id", run.id, "command", tr.Command, "event", tr.Event, "value", tr.Value)
				}
			}
		}
		if pending == 0 {
			return collect(ctx, e, runs), nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return collect(ctx, e, runs), ctx.Err()
		}
	}
}

func fire(ctx context.Context, e *engine.Engine, id string, cmd mission.Command) (mission.Mission, error) {
	switch cmd {
	case mission.CommandPause:
		return e.Pause(ctx, id)
	case mission.CommandResume:
		return e.Resume(ctx, id)
	case mission.CommandAbort:
		return e.Abort(ctx, id)
	}
	return mission.Mission{}, fmt.Errorf("command %q cannot be scripted", cmd)
}

func collect(ctx context.Context, e *engine.Engine, runs []*tracked) []mission.Mission {
	out := make([]mission.Mission, 0, len(runs))
	for _, run := range runs {
		if m, err := e.Get(ctx, run.id); err == nil {
			out = append(out, m)
		}
	}
	return out
}
