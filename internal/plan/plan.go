// Package plan loads scripted survey plans: a set of missions plus operator
// commands fired when a mission reaches a progress or time threshold.
package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"droneops-survey/internal/engine"
	"droneops-survey/internal/mission"
)

// Trigger events.
const (
	EventProgress = "progress"  // mission progress percent
	EventElapsed  = "elapsed_s" // wall seconds since the plan started
)

// Plan defines a set of missions flown together.
type Plan struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Missions    []Entry `yaml:"missions"`
}

// Entry is one mission of a plan with the commands scripted against it.
type Entry struct {
	Mission engine.MissionSpec `yaml:"mission"`
	// Schedule computes the flight path before start.
	Schedule bool      `yaml:"schedule,omitempty"`
	Triggers []Trigger `yaml:"triggers,omitempty"`
}

// Trigger issues Command once Event reaches Value. Triggers of an entry fire
// in order, each at most once.
type Trigger struct {
	Event   string          `yaml:"event"`
	Value   float64         `yaml:"value"`
	Command mission.Command `yaml:"command"`
}

// Observation is what a trigger is evaluated against.
type Observation struct {
	Progress float64
	Elapsed  float64
}

// Load reads a YAML plan definition from disk.
func Load(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML plan.
func Parse(b []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks trigger events and commands.
func (p *Plan) Validate() error {
	if len(p.Missions) == 0 {
		return fmt.Errorf("plan %q has no missions", p.Name)
	}
	for i, e := range p.Missions {
		for j, tr := range e.Triggers {
			switch tr.Event {
			case EventProgress, EventElapsed:
			default:
				return fmt.Errorf("mission %d trigger %d: unknown event %q", i, j, tr.Event)
			}
			switch tr.Command {
			case mission.CommandPause, mission.CommandResume, mission.CommandAbort:
			default:
				return fmt.Errorf("mission %d trigger %d: command %q cannot be scripted", i, j, tr.Command)
			}
		}
	}
	return nil
}

// NextTrigger returns the trigger after the first fired ones if obs satisfies
// it. If no trigger matches, ok will be false.
func (e Entry) NextTrigger(fired int, obs Observation) (tr Trigger, ok bool) {
	if fired >= len(e.Triggers) {
		return Trigger{}, false
	}
	tr = e.Triggers[fired]
	switch tr.Event {
	case EventProgress:
		return tr, obs.Progress >= tr.Value
	case EventElapsed:
		return tr, obs.Elapsed >= tr.Value
	}
	return Trigger{}, false
}
