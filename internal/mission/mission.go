// Mission model and lifecycle transition table
package mission

import (
	"time"

	"droneops-survey/internal/flightpath"
	"droneops-survey/internal/geo"
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusAborted    Status = "ABORTED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are accepted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// Active reports whether a simulator runs for missions in s.
func (s Status) Active() bool {
	return s == StatusInProgress || s == StatusPaused
}

// Mission is one survey job. It owns its flight path; the drone is only
// referenced by id.
type Mission struct {
	ID             string             `json:"id"`
	Name           string             `json:"name,omitempty"`
	Status         Status             `json:"status"`
	CoverageArea   []geo.Coordinate   `json:"coverage_area"`
	Pattern        flightpath.Pattern `json:"pattern_type"`
	Altitude       float64            `json:"altitude"`
	Speed          float64            `json:"speed"`
	OverlapPercent float64            `json:"overlap_percent"`
	Sensor         flightpath.Sensor  `json:"sensor"`
	// SensorPinned keeps Sensor when a drone of another model is reserved.
	SensorPinned         bool                   `json:"sensor_pinned,omitempty"`
	PerimeterPasses      int                    `json:"perimeter_passes,omitempty"`
	BaseID               string                 `json:"base_id"`
	FlightPath           *flightpath.FlightPath `json:"flight_path,omitempty"`
	CurrentWaypointIndex int                    `json:"current_waypoint_index"`
	Progress             float64                `json:"progress"`
	Battery              float64                `json:"battery"`
	AssignedDroneID      string                 `json:"assigned_drone_id,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	StartedAt            *time.Time             `json:"started_at,omitempty"`
	CompletedAt          *time.Time             `json:"completed_at,omitempty"`
	FailureReason        string                 `json:"failure_reason,omitempty"`
	// Version increases with every applied change; stores keep the highest.
	Version int64 `json:"version"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m Mission) Clone() Mission {
	m.CoverageArea = append([]geo.Coordinate(nil), m.CoverageArea...)
	m.FlightPath = m.FlightPath.Clone()
	if m.StartedAt != nil {
		t := *m.StartedAt
		m.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		m.CompletedAt = &t
	}
	return m
}

// Params returns the path generation request for m from the given base.
func (m Mission) Params(base geo.Coordinate) flightpath.Params {
	return flightpath.Params{
		Pattern:         m.Pattern,
		Area:            m.CoverageArea,
		Altitude:        m.Altitude,
		Speed:           m.Speed,
		OverlapPercent:  m.OverlapPercent,
		Base:            base,
		Sensor:          m.Sensor,
		PerimeterPasses: m.PerimeterPasses,
	}
}

// Apply runs cmd against m's current status and updates it in place. The
// mission is left untouched when the transition is not allowed.
func (m *Mission) Apply(cmd Command, now time.Time) error {
	next, err := Transition(m.Status, cmd)
	if err != nil {
		return err
	}
	m.Status = next
	m.Version++
	switch {
	case next == StatusInProgress && m.StartedAt == nil:
		t := now
		m.StartedAt = &t
	case next.Terminal():
		t := now
		m.CompletedAt = &t
	}
	if next == StatusCompleted {
		m.Progress = 100
		if m.FlightPath != nil {
			m.CurrentWaypointIndex = m.FlightPath.LastIndex()
		}
	}
	return nil
}
