package sim

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"droneops-survey/internal/telemetry"
)

// natsPublisher is the part of *nats.Conn the writer needs.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSWriter publishes samples as JSON on "<subject>.<mission_id>" and
// lifecycle events on "<subject>.<mission_id>.events".
type NATSWriter struct {
	pub     natsPublisher
	conn    *nats.Conn
	subject string
}

// NewNATSWriter connects to url.
func NewNATSWriter(url, subject string) (*NATSWriter, error) {
	nc, err := nats.Connect(url, nats.Name("droneops-survey"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if subject == "" {
		subject = "droneops.telemetry"
	}
	return &NATSWriter{pub: nc, conn: nc, subject: subject}, nil
}

// Subject returns the subject samples of missionID are published on.
func (w *NATSWriter) Subject(missionID string) string {
	return w.subject + "." + missionID
}

// Write publishes a single telemetry sample.
func (w *NATSWriter) Write(s telemetry.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return w.pub.Publish(w.Subject(s.MissionID), data)
}

// WriteEvent publishes a mission lifecycle event.
func (w *NATSWriter) WriteEvent(e telemetry.MissionEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return w.pub.Publish(w.Subject(e.MissionID)+".events", data)
}

// Close flushes pending messages and closes the connection.
func (w *NATSWriter) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Drain()
}
