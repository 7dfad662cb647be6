// Telemetry structs with greptime tags
package telemetry

import (
	"os"
	"time"

	"droneops-survey/internal/geo"
)

// Sample is one simulated observation of a mission's drone. Samples are
// immutable once produced.
type Sample struct {
	ClusterID         string         `json:"cluster_id"`         // TAG
	MissionID         string         `json:"mission_id"`         // TAG
	DroneID           string         `json:"drone_id"`           // TAG
	Position          geo.Coordinate `json:"position"`           // FIELD lat, lng
	Altitude          float64        `json:"altitude"`           // FIELD
	BatteryPercent    float64        `json:"battery_percent"`    // FIELD
	WaypointIndex     int            `json:"waypoint_index"`     // FIELD
	DistanceRemaining float64        `json:"distance_remaining"` // FIELD
	Progress          float64        `json:"progress"`           // FIELD
	Status            string         `json:"status"`             // FIELD
	Seq               uint64         `json:"seq"`                // FIELD
	Timestamp         time.Time      `json:"ts"`                 // TIME INDEX
}

// TelemetryTableName holds the table name used when writing samples to
// GreptimeDB. It defaults to "mission_telemetry" but can be overridden via
// the GREPTIMEDB_TABLE environment variable.
var TelemetryTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "mission_telemetry"
}()

func (Sample) TableName() string {
	return TelemetryTableName
}

// MissionEvent records one applied lifecycle transition.
type MissionEvent struct {
	ClusterID string    `json:"cluster_id"` // TAG
	MissionID string    `json:"mission_id"` // TAG
	DroneID   string    `json:"drone_id"`   // FIELD
	Command   string    `json:"command"`    // FIELD
	From      string    `json:"from"`       // FIELD
	To        string    `json:"to"`         // FIELD
	Reason    string    `json:"reason,omitempty"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"ts"` // TIME INDEX
}

// MissionEventTableName is the GreptimeDB table for MissionEvent rows.
const MissionEventTableName = "mission_events"

func (MissionEvent) TableName() string {
	return MissionEventTableName
}

// Battery status constants.
const (
	StatusOK         = "ok"
	StatusLowBattery = "low_battery"
	StatusDepleted   = "depleted"
)
