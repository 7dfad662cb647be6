package sim

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"droneops-survey/internal/telemetry"
)

const defaultGreptimePort = 4001

// greptimeClient is the part of the ingester client the writer uses.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes telemetry and mission events to GreptimeDB via the
// ingester client. Tables are created by GreptimeDB on first write.
type GreptimeDBWriter struct {
	client     greptimeClient
	table      string
	eventTable string
	timeout    time.Duration
}

// NewGreptimeDBWriter connects to the gRPC endpoint host[:port].
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port := endpoint, defaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptimedb endpoint %q: bad port: %w", endpoint, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptimedb client: %w", err)
	}
	return &GreptimeDBWriter{
		client:     client,
		table:      telemetry.TelemetryTableName,
		eventTable: telemetry.MissionEventTableName,
		timeout:    5 * time.Second,
	}, nil
}

// Write inserts a single telemetry sample.
func (w *GreptimeDBWriter) Write(s telemetry.Sample) error {
	return w.WriteBatch([]telemetry.Sample{s})
}

// WriteBatch inserts multiple telemetry samples.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.Sample) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.table)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("cluster_id", types.STRING)
	tbl.AddTagColumn("mission_id", types.STRING)
	tbl.AddTagColumn("drone_id", types.STRING)
	tbl.AddFieldColumn("lat", types.FLOAT64)
	tbl.AddFieldColumn("lng", types.FLOAT64)
	tbl.AddFieldColumn("altitude", types.FLOAT64)
	tbl.AddFieldColumn("battery", types.FLOAT64)
	tbl.AddFieldColumn("waypoint_index", types.INT64)
	tbl.AddFieldColumn("distance_remaining", types.FLOAT64)
	tbl.AddFieldColumn("progress", types.FLOAT64)
	tbl.AddFieldColumn("status", types.STRING)
	tbl.AddFieldColumn("seq", types.UINT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	for _, s := range rows {
		if err := tbl.AddRow(
			s.ClusterID, s.MissionID, s.DroneID,
			s.Position.Lat, s.Position.Lng, s.Altitude, s.BatteryPercent,
			int64(s.WaypointIndex), s.DistanceRemaining, s.Progress, s.Status, s.Seq,
			s.Timestamp,
		); err != nil {
			return fmt.Errorf("greptimedb row for %s: %w", s.MissionID, err)
		}
	}
	return w.write(tbl)
}

// WriteEvent inserts a mission lifecycle event.
func (w *GreptimeDBWriter) WriteEvent(e telemetry.MissionEvent) error {
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("cluster_id", types.STRING)
	tbl.AddTagColumn("mission_id", types.STRING)
	tbl.AddFieldColumn("drone_id", types.STRING)
	tbl.AddFieldColumn("command", types.STRING)
	tbl.AddFieldColumn("from_status", types.STRING)
	tbl.AddFieldColumn("to_status", types.STRING)
	tbl.AddFieldColumn("reason", types.STRING)
	tbl.AddFieldColumn("version", types.INT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(e.ClusterID, e.MissionID, e.DroneID, e.Command, e.From, e.To, e.Reason, e.Version, e.Timestamp); err != nil {
		return err
	}
	return w.write(tbl)
}

func (w *GreptimeDBWriter) write(tbl *table.Table) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeoutOrDefault())
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		return fmt.Errorf("greptimedb write: %w", err)
	}
	return nil
}

func (w *GreptimeDBWriter) timeoutOrDefault() time.Duration {
	if w.timeout > 0 {
		return w.timeout
	}
	return 5 * time.Second
}
