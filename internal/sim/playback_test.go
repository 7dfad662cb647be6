package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"droneops-survey/internal/telemetry"
)

func TestReplayLog(t *testing.T) {
	rows := []telemetry.Sample{
		{ClusterID: "c1", MissionID: "m1", DroneID: "d1", Seq: 1, Timestamp: time.Unix(0, 0)},
		{ClusterID: "c1", MissionID: "m1", DroneID: "d1", Seq: 2, Timestamp: time.Unix(1, 0)},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	hub := telemetry.NewHub(4)
	sub := hub.Subscribe("m1")
	cw := &MockWriter{}
	n, err := ReplayLog(context.Background(), &buf, cw, hub, 0)
	if err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if n != len(rows) || len(cw.samples) != len(rows) {
		t.Fatalf("expected %d samples, got %d", len(rows), len(cw.samples))
	}
	for i, r := range rows {
		if cw.samples[i].Seq != r.Seq {
			t.Fatalf("sample %d mismatch: %+v vs %+v", i, cw.samples[i], r)
		}
	}
	if got := (<-sub.C).Seq; got != 1 {
		t.Fatalf("hub got seq %d first", got)
	}
}

func TestReplayLogHonoursCancel(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	_ = enc.Encode(telemetry.Sample{Seq: 1, Timestamp: time.Unix(0, 0)})
	_ = enc.Encode(telemetry.Sample{Seq: 2, Timestamp: time.Unix(3600, 0)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := ReplayLog(ctx, &buf, &MockWriter{}, nil, 1)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if n != 1 {
		t.Fatalf("replayed %d samples before cancel, want 1", n)
	}
}

func TestReplayLogBadInput(t *testing.T) {
	if _, err := ReplayLog(context.Background(), bytes.NewBufferString("{not json"), &MockWriter{}, nil, 0); err == nil {
		t.Fatalf("expected decode error")
	}
}
