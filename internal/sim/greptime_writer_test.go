package sim

import (
	"context"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"droneops-survey/internal/geo"
	"droneops-survey/internal/telemetry"
)

type mockGreptimeClient struct {
	table *table.Table
	calls int
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	m.calls++
	if len(tables) > 0 {
		m.table = tables[0]
	}
	return &gpb.GreptimeResponse{}, nil
}

func TestGreptimeWriterSamples(t *testing.T) {
	ts := time.Unix(0, 0).UTC()
	rows := []telemetry.Sample{
		{ClusterID: "c1", MissionID: "m1", DroneID: "d1", Position: geo.Coordinate{Lat: 48.2, Lng: 16.3}, BatteryPercent: 90, WaypointIndex: 3, Status: telemetry.StatusOK, Seq: 7, Timestamp: ts},
		{ClusterID: "c1", MissionID: "m1", DroneID: "d1", Position: geo.Coordinate{Lat: 48.3, Lng: 16.4}, BatteryPercent: 89, WaypointIndex: 4, Status: telemetry.StatusOK, Seq: 8, Timestamp: ts.Add(time.Second)},
	}

	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, table: "mission_telemetry"}

	if err := w.WriteBatch(rows); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if m.table == nil {
		t.Fatalf("expected table to be captured")
	}
	if m.calls != 1 {
		t.Fatalf("calls = %d, want one write per batch", m.calls)
	}

	got := m.table.GetRows()
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}
	if got.Schema[1].ColumnName != "mission_id" {
		t.Fatalf("column 1 = %s, want mission_id", got.Schema[1].ColumnName)
	}
	if got.Schema[1].SemanticType != gpb.SemanticType_TAG {
		t.Fatalf("mission_id semantic type = %v, want TAG", got.Schema[1].SemanticType)
	}
	if v := got.Rows[0].Values[1].GetStringValue(); v != "m1" {
		t.Fatalf("mission_id = %s, want m1", v)
	}
	if v := got.Rows[1].Values[3].GetF64Value(); v != 48.3 {
		t.Fatalf("lat = %v, want 48.3", v)
	}
	if v := got.Rows[0].Values[7].GetI64Value(); v != 3 {
		t.Fatalf("waypoint_index = %v, want 3", v)
	}
}

func TestGreptimeWriterSkipsEmptyBatch(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, table: "mission_telemetry"}
	if err := w.WriteBatch(nil); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if m.calls != 0 {
		t.Fatalf("empty batch must not reach the client")
	}
}

func TestGreptimeWriterEvents(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeDBWriter{client: m, eventTable: "mission_events"}
	ev := telemetry.MissionEvent{
		ClusterID: "c1", MissionID: "m1", DroneID: "d1",
		Command: "fail", From: "IN_PROGRESS", To: "FAILED", Reason: "battery_exhausted",
		Version: 12, Timestamp: time.Unix(10, 0).UTC(),
	}
	if err := w.WriteEvent(ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	row := m.table.GetRows().Rows[0]
	if got := row.Values[5].GetStringValue(); got != "FAILED" {
		t.Fatalf("to_status = %s, want FAILED", got)
	}
	if got := row.Values[6].GetStringValue(); got != "battery_exhausted" {
		t.Fatalf("reason = %s, want battery_exhausted", got)
	}
}
