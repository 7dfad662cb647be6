package sim

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"droneops-survey/internal/geo"
	"droneops-survey/internal/telemetry"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	ts := time.Unix(0, 0).UTC()
	smp := telemetry.Sample{
		ClusterID:      "c1",
		MissionID:      "m1",
		DroneID:        "d1",
		Position:       geo.Coordinate{Lat: 48.2, Lng: 16.3},
		Altitude:       60,
		BatteryPercent: 77,
		WaypointIndex:  3,
		Progress:       12.5,
		Status:         telemetry.StatusOK,
		Seq:            9,
		Timestamp:      ts,
	}
	ev := telemetry.MissionEvent{ClusterID: "c1", MissionID: "m1", Command: "start", From: "SCHEDULED", To: "IN_PROGRESS", Version: 2, Timestamp: ts}

	tele := filepath.Join(dir, "telemetry.jsonl")
	events := filepath.Join(dir, "events.jsonl")
	fw, err := NewFileWriter(tele, events)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := fw.WriteBatch([]telemetry.Sample{smp, smp}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fw.WriteEvent(ev); err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(tele)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		var got telemetry.Sample
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("decode telemetry: %v", err)
		}
		if got.Position != smp.Position || got.Seq != smp.Seq || !got.Timestamp.Equal(ts) {
			t.Fatalf("unexpected telemetry: %#v", got)
		}
		n++
	}
	if n != 2 {
		t.Fatalf("lines = %d, want 2", n)
	}

	data, err := os.ReadFile(events)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var gotEv telemetry.MissionEvent
	if err := json.Unmarshal(data, &gotEv); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if gotEv.To != "IN_PROGRESS" || gotEv.Version != 2 {
		t.Fatalf("unexpected event: %#v", gotEv)
	}
}

func TestFileWriterWithoutEventLog(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(filepath.Join(dir, "t.jsonl"), "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()
	if err := fw.WriteEvent(telemetry.MissionEvent{MissionID: "m"}); err != nil {
		t.Fatalf("events are skipped without a path: %v", err)
	}
}

func TestFileWriterBadPath(t *testing.T) {
	if _, err := NewFileWriter(filepath.Join(t.TempDir(), "missing", "t.jsonl"), ""); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
