package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"droneops-survey/internal/mission"
	"droneops-survey/internal/sim"
	"droneops-survey/internal/telemetry"
)

func TestNewWritersPrintOnly(t *testing.T) {
	t.Setenv("GREPTIMEDB_ENDPOINT", "localhost:4001")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	w, cleanup, err := newWriters(context.Background(), writerOptions{PrintOnly: true})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	defer cleanup()
	if _, ok := w.(*sim.StdoutWriter); !ok {
		t.Fatalf("expected *sim.StdoutWriter, got %T", w)
	}
}

func TestNewWritersGreptimeFallback(t *testing.T) {
	t.Setenv("GREPTIMEDB_ENDPOINT", "")
	t.Setenv("CLICKHOUSE_ADDR", "")
	t.Setenv("NATS_URL", "")
	w, cleanup, err := newWriters(context.Background(), writerOptions{})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	defer cleanup()
	if _, ok := w.(*sim.StdoutWriter); !ok {
		t.Fatalf("expected *sim.StdoutWriter, got %T", w)
	}
}

func TestNewWritersLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.log")
	w, cleanup, err := newWriters(context.Background(), writerOptions{PrintOnly: true, LogFile: path})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	if _, ok := w.(*sim.MultiWriter); !ok {
		t.Fatalf("expected *sim.MultiWriter, got %T", w)
	}
	now := time.Now()
	if err := w.Write(telemetry.Sample{MissionID: "m1", DroneID: "d1", Seq: 1, Timestamp: now}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ev := telemetry.MissionEvent{MissionID: "m1", Command: string(mission.CommandStart), To: string(mission.StatusInProgress), Timestamp: now}
	if err := w.WriteEvent(ev); err != nil {
		t.Fatalf("write event failed: %v", err)
	}
	cleanup()

	for _, p := range []string{path, path + ".events"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s failed: %v", p, err)
		}
		if info.Size() == 0 {
			t.Fatalf("expected %s to be non-empty", p)
		}
	}
}
