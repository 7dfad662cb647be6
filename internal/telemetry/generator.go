package telemetry

import (
	"time"

	"droneops-survey/internal/geo"
)

// LowBatteryPct is the level at or below which samples report low battery.
const LowBatteryPct = 20

// State is the simulator's view of a drone at one instant.
type State struct {
	Position          geo.Coordinate
	Altitude          float64
	Battery           float64
	WaypointIndex     int
	DistanceRemaining float64
	Progress          float64
}

// Generator turns simulator state into telemetry samples for one cluster.
type Generator struct {
	ClusterID string
	now       func() time.Time
}

// NewGenerator creates a new telemetry generator for a given cluster.
func NewGenerator(clusterID string) *Generator {
	return &Generator{ClusterID: clusterID, now: time.Now}
}

// WithClock replaces the wall clock used for sample timestamps.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// GenerateSample stamps st into a Sample ready for fan-out and storage.
func (g *Generator) GenerateSample(missionID, droneID string, seq uint64, st State) Sample {
	return Sample{
		ClusterID:         g.ClusterID,
		MissionID:         missionID,
		DroneID:           droneID,
		Position:          st.Position,
		Altitude:          st.Altitude,
		BatteryPercent:    st.Battery,
		WaypointIndex:     st.WaypointIndex,
		DistanceRemaining: st.DistanceRemaining,
		Progress:          st.Progress,
		Status:            BatteryStatus(st.Battery),
		Seq:               seq,
		Timestamp:         g.now().UTC(),
	}
}

// BatteryStatus classifies a battery level.
func BatteryStatus(pct float64) string {
	switch {
	case pct <= 0:
		return StatusDepleted
	case pct <= LowBatteryPct:
		return StatusLowBattery
	default:
		return StatusOK
	}
}
